package ports

import (
	"context"
	"time"

	"notifyq/internal/domain"
)

// Queue is the broker-agnostic job queue contract. The redisq client is the
// shipped implementation; any durable broker satisfying this works.
type Queue interface {
	Enqueue(ctx context.Context, j domain.Job) (string, error)
	EnqueueDelayed(ctx context.Context, j domain.Job, runAt time.Time) (string, error)
	Claim(ctx context.Context, queueName, consumer string, block time.Duration) (*domain.Job, string /*leaseID*/, error)
	Ack(ctx context.Context, queueName, leaseID string) error
	SaveState(ctx context.Context, j domain.Job) error
	Get(ctx context.Context, id string) (*domain.Job, error)
}

// DeadLetterStore holds exhausted jobs for inspection and replay.
type DeadLetterStore interface {
	// Move appends an entry for j. Idempotent on the original job ID.
	Move(ctx context.Context, j domain.Job, reason string) error
	// ReplayAll resubmits every entry whose job still exists to its original
	// queue, in arrival order, clearing each on accepted resubmission.
	ReplayAll(ctx context.Context) (int, error)
	Stats(ctx context.Context) (domain.DeadLetterStats, error)
}

// RateLimiter caps requests per provider over a rolling window.
type RateLimiter interface {
	// Allow reports whether one more request fits inside the provider's
	// current window. The count increment is atomic across workers.
	Allow(ctx context.Context, providerID string, limit int, window time.Duration) (bool, error)
}

// ProviderDirectory is the external provider store, read plus health updates.
type ProviderDirectory interface {
	FindProvider(ctx context.Context, tenantID, providerType, integrationType string) (*domain.Provider, error)
	FindProviderByID(ctx context.Context, id string) (*domain.Provider, error)
	UpdateProviderHealth(ctx context.Context, id string, score float64, isActive bool) error
}

// PreferenceStore resolves recipient preferences and message templates.
// GetTemplate may return (nil, nil) when no template is registered; callers
// fall back to passing the message fields through untouched.
type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID, tenantID, messageType string) (*domain.Preferences, error)
	GetTemplate(ctx context.Context, messageType string, channelIDs []string) (*domain.Template, error)
}

// Transport performs the actual provider API call. Implementations classify
// failures into domain.TransientError / domain.PermanentError.
type Transport interface {
	Send(ctx context.Context, endpoint string, credentials string, msg domain.Message) error
}

// AlertSink receives operational alerts. Fire-and-forget: implementations
// log their own failures and never return them to the delivery path.
type AlertSink interface {
	Post(ctx context.Context, message string, fields map[string]string)
}

// SecretResolver turns an opaque credential reference into usable
// credentials. Pluggable so no crypto scheme is baked into this core.
type SecretResolver interface {
	Resolve(ctx context.Context, ref domain.CredentialRef) (string, error)
}

// Scheduler moves due delayed jobs back onto their streams.
type Scheduler interface {
	Run(ctx context.Context) error
}
