package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that serializes as a Go duration string
// ("90s", "5m") and additionally accepts plain numbers (milliseconds)
// when unmarshalling, for compatibility with numeric workflow sources.
type Duration time.Duration

// AsDuration converts to the standard library type.
func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v) * time.Millisecond)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}
