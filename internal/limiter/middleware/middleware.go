// Package middleware enforces admission control on inbound HTTP requests.
// It extracts the caller's identity, asks policy which limiter applies, and
// translates the consume result into X-RateLimit-* headers and, on denial,
// a 429 response. Resolver or limiter errors fail open: an admission-control
// outage must not take the API down with it.
package middleware

//go:generate mockgen -destination=mocks/policy_mock.go -package=mocks quell/internal/limiter/policy Resolver,Limiter

import (
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"quell/internal/limiter/decision"
	"quell/internal/limiter/models"
	"quell/internal/limiter/policy"
	"quell/pkg/httputil"
)

// Middleware wires identity extraction, policy resolution, and limiters
// into a chi-compatible handler wrapper.
type Middleware struct {
	resolver   policy.Resolver
	logger     *slog.Logger
	tracer     trace.Tracer
	jwtSecret  []byte
	apiKeyTier models.Tier
	trustProxy bool
}

// Option configures the middleware.
type Option func(*Middleware)

// WithJWTSecret enables subject and tier extraction from HS256 bearer tokens.
func WithJWTSecret(secret []byte) Option {
	return func(m *Middleware) {
		m.jwtSecret = secret
	}
}

// WithTrustedProxy trusts X-Forwarded-For / X-Real-IP headers. Only enable
// behind a proxy that strips client-supplied values.
func WithTrustedProxy(trust bool) Option {
	return func(m *Middleware) {
		m.trustProxy = trust
	}
}

// WithAPIKeyTier sets the tier assigned to callers authenticating with an
// X-API-Key header. Defaults to the standard tier.
func WithAPIKeyTier(tier models.Tier) Option {
	return func(m *Middleware) {
		if tier.IsValid() {
			m.apiKeyTier = tier
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates the middleware around a policy resolver.
func New(resolver policy.Resolver, opts ...Option) *Middleware {
	m := &Middleware{
		resolver:   resolver,
		logger:     slog.Default(),
		tracer:     otel.Tracer("quell/limiter"),
		apiKeyTier: models.TierStandard,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limit returns a handler wrapper enforcing admission for the given
// endpoint class.
func (m *Middleware) Limit(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := m.tracer.Start(r.Context(), "ratelimit.consume",
				trace.WithAttributes(attribute.String("endpoint_class", string(class))))

			id := m.extractIdentity(r)
			id.Class = class

			resolution, err := m.resolver.Resolve(ctx, id)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to resolve rate limit policy", "error", err)
				span.End()
				next.ServeHTTP(w, r)
				return
			}

			result, err := resolution.Limiter.Consume(ctx, resolution.Key, resolution.Weight)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed", "error", err, "key", resolution.Key)
				span.End()
				next.ServeHTTP(w, r)
				return
			}

			kind := resolution.Limiter.Kind()
			span.SetAttributes(
				attribute.String("strategy", string(kind)),
				attribute.Bool("allowed", result.Allowed),
			)
			span.End()

			d := decision.From(result, kind)
			addRateLimitHeaders(w, d)

			if !d.Allowed {
				m.logger.InfoContext(ctx, "rate_limit_exceeded",
					"key", resolution.Key,
					"strategy", kind,
					"endpoint_class", class,
					"retry_after_seconds", d.RetryAfterSeconds,
					"log_type", "audit",
				)
				writeRateLimitExceeded(w, d)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// addRateLimitHeaders sets X-RateLimit-* headers regardless of outcome.
func addRateLimitHeaders(w http.ResponseWriter, d decision.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetEpochSeconds, 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, d decision.Decision) {
	w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    d.Message,
		RetryAfter: d.RetryAfterSeconds,
	})
}
