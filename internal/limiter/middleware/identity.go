package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"quell/internal/limiter/models"
	"quell/internal/limiter/policy"
	"quell/pkg/secrets"
)

// maxForwardedHeaderLength bounds proxy headers to prevent header injection
// from inflating limiter keys.
const maxForwardedHeaderLength = 500

// extractIdentity derives the caller identity from the request. Precedence:
// JWT bearer token, then X-API-Key, then anonymous by client IP.
func (m *Middleware) extractIdentity(r *http.Request) policy.Identity {
	id := policy.Identity{
		IP:        m.clientIP(r),
		Tier:      models.TierAnonymous,
		UserAgent: r.Header.Get("User-Agent"),
	}

	if subject, tier, ok := m.fromBearerToken(r); ok {
		id.Subject = subject
		id.Tier = tier
		return id
	}

	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		// State is keyed by fingerprint so the raw key never reaches the store.
		id.Subject = secrets.Fingerprint(apiKey)
		id.Tier = m.apiKeyTier
	}

	return id
}

// fromBearerToken parses an HS256 JWT and reads the subject and tier claims.
// Any parse or validation failure downgrades the caller to anonymous rather
// than rejecting the request; authentication is the auth layer's job.
func (m *Middleware) fromBearerToken(r *http.Request) (subject string, tier models.Tier, ok bool) {
	if len(m.jwtSecret) == 0 {
		return "", "", false
	}
	header := r.Header.Get("Authorization")
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || raw == "" {
		return "", "", false
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return m.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", "", false
	}

	subject, err = claims.GetSubject()
	if err != nil || subject == "" {
		return "", "", false
	}

	tier = models.TierFree
	if raw, exists := claims["tier"]; exists {
		if s, isString := raw.(string); isString && models.Tier(s).IsValid() {
			tier = models.Tier(s)
		}
	}
	return subject, tier, true
}

// clientIP extracts the caller's IP, honoring proxy headers only when the
// deployment declared its proxy trusted.
func (m *Middleware) clientIP(r *http.Request) string {
	remoteIP := parseRemoteAddr(r.RemoteAddr)
	if remoteIP == "" {
		remoteIP = "unknown"
	}
	if !m.trustProxy {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" && len(xff) <= maxForwardedHeaderLength {
		// First hop is the original client.
		if first, _, found := strings.Cut(xff, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" && len(xri) <= maxForwardedHeaderLength {
		return strings.TrimSpace(xri)
	}
	return remoteIP
}

// parseRemoteAddr strips the port from an address like "10.0.0.1:52431".
func parseRemoteAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
