// Package verification maintains the active phone verification. The product
// serves one caller at a time, so verifying a new phone number replaces any
// prior verification rather than accumulating alongside it.
package verification

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/moative/billie/internal/model"
	"github.com/moative/billie/internal/store"
)

// Status is the answer to a verification query.
type Status struct {
	Verified   bool   `json:"verified"`
	Exists     bool   `json:"exists"`
	AccountID  string `json:"account_id,omitempty"`
	VerifiedAt string `json:"verified_at,omitempty"`
}

// Gate owns verification writes and queries.
type Gate struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewGate(s store.Store, log zerolog.Logger) *Gate {
	return &Gate{
		store: s,
		log:   log.With().Str("component", "verification").Logger(),
		now:   time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Verify records phone as the active verified number. If the same phone is
// already active this is a no-op, so repeated verify calls within a session
// do not churn the record.
func (g *Gate) Verify(ctx context.Context, phone, accountID, sessionID, method string) error {
	existing, err := g.store.Verifications().ActiveByPhone(ctx, phone)
	if err == nil && existing.AccountID == accountID {
		g.log.Debug().Str("phone", phone).Msg("phone already verified")
		return nil
	}
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}

	rec := &model.VerificationRecord{
		PhoneNumber:        phone,
		AccountID:          accountID,
		SessionID:          sessionID,
		VerifiedAt:         g.now().UTC(),
		VerificationMethod: method,
		IsActive:           true,
	}
	if err := g.store.Verifications().Replace(ctx, rec); err != nil {
		return err
	}
	g.log.Info().Str("phone", phone).Str("account_id", accountID).Str("method", method).
		Msg("phone verified")
	return nil
}

// Active returns the currently verified record, or model.ErrNotFound.
func (g *Gate) Active(ctx context.Context) (*model.VerificationRecord, error) {
	return g.store.Verifications().Active(ctx)
}

// CheckStatus reports whether phone is the active verified number. Exists is
// true when any active verification exists at all, verified or not for this
// phone.
func (g *Gate) CheckStatus(ctx context.Context, phone string) (*Status, error) {
	active, err := g.store.Verifications().Active(ctx)
	if errors.Is(err, model.ErrNotFound) {
		return &Status{}, nil
	}
	if err != nil {
		return nil, err
	}

	st := &Status{Exists: true}
	if active.PhoneNumber == phone {
		st.Verified = true
		st.AccountID = active.AccountID
		st.VerifiedAt = active.VerifiedAt.UTC().Format(time.RFC3339)
	}
	return st, nil
}

// Deactivate retires the verification for phone without deleting its row.
func (g *Gate) Deactivate(ctx context.Context, phone string) error {
	return g.store.Verifications().Deactivate(ctx, phone)
}

// ClearBySession removes verifications recorded under a session, as part of
// thread teardown.
func (g *Gate) ClearBySession(ctx context.Context, sessionID string) error {
	return g.store.Verifications().DeleteBySession(ctx, sessionID)
}

// ClearAll wipes the verification table.
func (g *Gate) ClearAll(ctx context.Context) error {
	return g.store.Verifications().DeleteAll(ctx)
}
