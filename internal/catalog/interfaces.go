package catalog

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when no document matches a lookup.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when inserting a document whose unique key exists.
	ErrConflict = errors.New("conflict")
	// ErrMalformed marks configuration documents that fail validation.
	ErrMalformed = errors.New("malformed document")
	// ErrQueueClosed is returned by JobQueue implementations after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)

// ProviderStore persists the providers collection.
type ProviderStore interface {
	InsertProviders(ctx context.Context, providers []Provider) ([]string, error)
	FindProvider(ctx context.Context, pid string) (Provider, error)
	FindProviders(ctx context.Context, filter ProviderFilter) ([]Provider, error)
	// UpdateProvider replaces the document identified by provider.PID. The
	// stored id, backends_ids and last_checked are kept; SetBackendIDs and
	// PullBackendIDs own those fields.
	UpdateProvider(ctx context.Context, provider Provider) error
	// SetBackendIDs overwrites the backend list and stamps last_checked.
	SetBackendIDs(ctx context.Context, pid string, ids []string, checked time.Time) error
	// PullBackendIDs removes ids from every provider list that contains them.
	PullBackendIDs(ctx context.Context, ids []string) error
	DeleteProviders(ctx context.Context, filter ProviderFilter) (int, error)
	CountProviders(ctx context.Context) (int, error)
}

// BackendStore persists the backends collection.
type BackendStore interface {
	InsertBackends(ctx context.Context, backends []Backend) ([]string, error)
	FindBackend(ctx context.Context, id string) (Backend, error)
	FindBackends(ctx context.Context, filter BackendFilter) ([]Backend, error)
	DeleteBackends(ctx context.Context, ids []string) (int, error)
	UpdatePricing(ctx context.Context, id string, pricing Pricing) error
	CountBackends(ctx context.Context) (int, error)
}

// UserStore persists the users collection.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
	UpsertUser(ctx context.Context, user User) (User, error)
	CountUsers(ctx context.Context) (int, error)
}

// Store bundles the three collections behind one backend.
type Store interface {
	ProviderStore
	BackendStore
	UserStore
	Close() error
}

// JobStore tracks refresh jobs submitted to the worker pool.
type JobStore interface {
	CreateJob(ctx context.Context, job RefreshJob) error
	UpdateJob(ctx context.Context, jobID string, update JobUpdate) error
	GetJob(ctx context.Context, jobID string) (RefreshJob, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes catalog events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notifier delivers out-of-band error notifications. Implementations are best-effort.
type Notifier interface {
	Notify(ctx context.Context, err error, fields map[string]string)
}

// JobQueue provides enqueue/dequeue semantics for refresh jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces document and job ids.
type IDGenerator interface {
	NewID() (string, error)
}
