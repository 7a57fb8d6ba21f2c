package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var statusEmoji = map[string]string{
	"completed": ":white_check_mark:",
	"failed":    ":x:",
	"rejected":  ":no_entry_sign:",
	"cancelled": ":octagonal_sign:",
	"paused":    ":double_vertical_bar:",
}

var statusLabel = map[string]string{
	"completed": "Execution Complete",
	"failed":    "Execution Failed",
	"rejected":  "Plan Rejected",
	"cancelled": "Execution Cancelled",
	"paused":    "Execution Awaiting Review",
}

func executionURL(executionID, dashboardURL string) string {
	return fmt.Sprintf("%s/executions/%s", dashboardURL, executionID)
}

// BuildStartedMessage creates Block Kit blocks for an execution start
// notification.
func BuildStartedMessage(input ExecutionStartedInput, dashboardURL string) []goslack.Block {
	text := fmt.Sprintf(":arrows_counterclockwise: *Workflow `%s` started*", input.WorkflowID)
	if dashboardURL != "" {
		text += fmt.Sprintf("\n<%s|View execution>", executionURL(input.ExecutionID, dashboardURL))
	}
	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// BuildTerminalMessage creates Block Kit blocks for a terminal (or paused)
// execution notification.
func BuildTerminalMessage(input ExecutionCompletedInput, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[input.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[input.Status]
	if label == "" {
		label = "Execution " + input.Status
	}

	headerText := fmt.Sprintf("%s *%s* — workflow `%s`", emoji, label, input.WorkflowID)
	if input.ExitStatus != "" {
		headerText += fmt.Sprintf(" (%s)", input.ExitStatus)
	}
	if input.Error != "" {
		headerText += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(input.Error))
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
	}
	if input.Summary != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(input.Summary), false, false),
			nil, nil,
		))
	}

	if dashboardURL != "" {
		buttonText := "View Result"
		if input.Status != "completed" {
			buttonText = "View Details"
		}
		btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, buttonText, false, false))
		btn.URL = executionURL(input.ExecutionID, dashboardURL)
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}
	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
