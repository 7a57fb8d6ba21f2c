package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/strand-ai/strand/pkg/tenant"
	"github.com/strand-ai/strand/pkg/validate"
)

// requestLogger logs one structured line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"tenant_id", tenant.MustFromContext(c.Request.Context()))
	}
}

// authenticate resolves the tenant from the bearer token and binds it to
// the request context. In dev mode, requests without a token fall back
// to the configured dev tenant.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if s.cfg.Server.DevMode {
				bindTenant(c, s.cfg.Auth.DevTenant)
				c.Next()
				return
			}
			abortError(c, http.StatusUnauthorized, "missing bearer token")
			return
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			abortError(c, http.StatusUnauthorized, "malformed authorization header")
			return
		}

		tenantID, err := s.tenantFromToken(raw)
		if err != nil {
			slog.Warn("Token rejected", "error", err)
			abortError(c, http.StatusUnauthorized, "invalid token")
			return
		}
		bindTenant(c, tenantID)
		c.Next()
	}
}

// tenantFromToken verifies the JWT and extracts the tenant claim.
func (s *Server) tenantFromToken(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.Auth.JWTSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type %T", token.Claims)
	}
	tenantID, _ := claims[s.cfg.Auth.TenantClaim].(string)
	if tenantID == "" {
		return "", fmt.Errorf("token has no %s claim", s.cfg.Auth.TenantClaim)
	}
	if err := validate.Identifier(tenantID); err != nil {
		return "", fmt.Errorf("tenant claim: %w", err)
	}
	return tenantID, nil
}

func bindTenant(c *gin.Context, tenantID string) {
	c.Request = c.Request.WithContext(tenant.WithTenant(c.Request.Context(), tenantID))
}

// pathID validates the :id path parameter and aborts with 400 on
// violation. Returns the id and whether processing should continue.
func pathID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if err := validate.Identifier(id); err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}
