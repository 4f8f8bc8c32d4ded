// Package policy maps a request's client identity to the limiter instance,
// key, and weight that apply. The limiters themselves stay policy-free and
// can be tested in isolation.
package policy

import (
	"context"
	"log/slog"

	"github.com/mssola/useragent"

	"quell/internal/limiter/models"
	dErrors "quell/pkg/domain-errors"
)

// Limiter is what policy hands back to callers: any admission strategy with
// a consume operation. Both strategy packages satisfy it.
type Limiter interface {
	Consume(ctx context.Context, key string, weight int) (*models.ConsumeResult, error)
	Kind() models.LimiterKind
	Limit() int
}

// Identity describes the caller of a single request. Subject is the stable
// identifier of an authenticated caller (user id or API-key fingerprint) and
// is empty for anonymous traffic.
type Identity struct {
	IP        string
	Subject   string
	Tier      models.Tier
	Class     models.EndpointClass
	UserAgent string
}

// Resolution is the (limiter, key, weight) triple the core consumes.
type Resolution struct {
	Limiter Limiter
	Key     string
	Weight  int
}

// Resolver selects limits for an identity.
type Resolver interface {
	Resolve(ctx context.Context, id Identity) (Resolution, error)
}

// TierResolver routes anonymous traffic to a per-IP sliding window and
// authenticated traffic to a per-subject token bucket chosen by tier.
// Request weight scales with endpoint class, doubled for bot user agents.
type TierResolver struct {
	anonymous    Limiter
	tiers        map[models.Tier]Limiter
	classWeights map[models.EndpointClass]int
	botFactor    int
	logger       *slog.Logger
}

// TierOption configures the TierResolver.
type TierOption func(*TierResolver)

// WithClassWeights overrides the per-class request weights.
func WithClassWeights(weights map[models.EndpointClass]int) TierOption {
	return func(r *TierResolver) {
		if weights != nil {
			r.classWeights = weights
		}
	}
}

// WithBotFactor overrides the weight multiplier applied to bot user agents.
func WithBotFactor(factor int) TierOption {
	return func(r *TierResolver) {
		if factor > 0 {
			r.botFactor = factor
		}
	}
}

func WithLogger(logger *slog.Logger) TierOption {
	return func(r *TierResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewTierResolver builds a resolver. anonymous handles traffic without a
// subject; tiers maps each authenticated tier to its limiter.
func NewTierResolver(anonymous Limiter, tiers map[models.Tier]Limiter, opts ...TierOption) (*TierResolver, error) {
	if anonymous == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "anonymous limiter is required")
	}

	r := &TierResolver{
		anonymous: anonymous,
		tiers:     tiers,
		classWeights: map[models.EndpointClass]int{
			models.ClassAuth:      1,
			models.ClassRead:      1,
			models.ClassWrite:     2,
			models.ClassSensitive: 3,
		},
		botFactor: 2,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve picks the limiter instance, store key, and weight for an identity.
func (r *TierResolver) Resolve(_ context.Context, id Identity) (Resolution, error) {
	if id.IP == "" && id.Subject == "" {
		return Resolution{}, dErrors.New(dErrors.CodeInvalidInput, "identity has no IP and no subject")
	}

	class := id.Class
	if !class.IsValid() {
		class = models.ClassRead
	}

	weight := r.classWeights[class]
	if weight <= 0 {
		weight = 1
	}
	if id.UserAgent != "" && useragent.New(id.UserAgent).Bot() {
		weight *= r.botFactor
	}

	if id.Subject == "" || id.Tier == models.TierAnonymous || id.Tier == "" {
		return Resolution{
			Limiter: r.anonymous,
			Key:     models.NewClientKey(models.KeyPrefixIP, id.IP, class).String(),
			Weight:  weight,
		}, nil
	}

	limiter, ok := r.tiers[id.Tier]
	if !ok {
		// Unknown tiers get the strictest treatment rather than a free pass.
		r.logger.Warn("unknown tier, falling back to anonymous limits",
			"tier", id.Tier, "subject", id.Subject)
		return Resolution{
			Limiter: r.anonymous,
			Key:     models.NewClientKey(models.KeyPrefixIP, id.IP, class).String(),
			Weight:  weight,
		}, nil
	}

	return Resolution{
		Limiter: limiter,
		Key:     models.NewClientKey(models.KeyPrefixUser, id.Subject, class).String(),
		Weight:  weight,
	}, nil
}
