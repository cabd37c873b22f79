package store

import (
	"context"
	"time"

	"github.com/moative/billie/internal/model"
)

// Store exposes persistence operations required by services.
// Implementations live under internal/store/<driver>/ (e.g., sqlite, postgres).
type Store interface {
	Checkpoints() Checkpoints
	Sessions() Sessions
	Verifications() Verifications
	Customers() Customers
	Outages() Outages

	// Ping verifies connectivity to the backing database.
	Ping(ctx context.Context) error
}

// Checkpoints persists one DialogueState per thread, latest-wins.
type Checkpoints interface {
	// Load returns the checkpoint for a thread, or model.ErrNotFound.
	Load(ctx context.Context, threadID string) (*model.Checkpoint, error)
	// Save writes the checkpoint and upserts the thread's TTL record in one
	// transaction. cp.Version must equal the currently stored version (0 for
	// a new thread); model.ErrConflict is returned on mismatch. On success
	// the stored version is cp.Version+1.
	Save(ctx context.Context, cp *model.Checkpoint, lastMessageTime time.Time) error
	// Delete removes the checkpoint and TTL record for a thread. Deleting a
	// missing thread is a no-op.
	Delete(ctx context.Context, threadID string) error
}

// Sessions exposes the TTL records the reaper sweeps.
type Sessions interface {
	List(ctx context.Context) ([]model.TTLRecord, error)
	Touch(ctx context.Context, threadID string, t time.Time) error
}

// Verifications stores the single system-wide trusted phone number.
type Verifications interface {
	// Replace deletes all existing records and inserts rec in one
	// transaction, preserving the at-most-one-active invariant.
	Replace(ctx context.Context, rec *model.VerificationRecord) error
	// Active returns the most recently verified active record, or
	// model.ErrNotFound.
	Active(ctx context.Context) (*model.VerificationRecord, error)
	// ActiveByPhone returns the active record for a phone number, or
	// model.ErrNotFound.
	ActiveByPhone(ctx context.Context, phoneNumber string) (*model.VerificationRecord, error)
	// Deactivate flips is_active off for a phone number. Returns
	// model.ErrNotFound when no record matched.
	Deactivate(ctx context.Context, phoneNumber string) error
	DeleteBySession(ctx context.Context, sessionID string) error
	DeleteAll(ctx context.Context) error
}

// Customers is the local account directory plus billing and meter data.
type Customers interface {
	GetByPhone(ctx context.Context, phoneNumber string) (*model.Customer, error)
	GetByAccountID(ctx context.Context, accountID string) (*model.Customer, error)
	Create(ctx context.Context, c *model.Customer) error
	BillingByAccount(ctx context.Context, accountID string) (*model.BillingInfo, error)
	PutBilling(ctx context.Context, b *model.BillingInfo) error
	LatestReading(ctx context.Context, accountID string) (*model.MeterReading, error)
	PutReading(ctx context.Context, r *model.MeterReading) error
}

// Outages stores reported outages.
type Outages interface {
	Create(ctx context.Context, o *model.Outage) error
	GetByReference(ctx context.Context, referenceNumber string) (*model.Outage, error)
	ActiveByZip(ctx context.Context, zipCode string) ([]*model.Outage, error)
}
