package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/moative/billie/internal/model"
	"github.com/moative/billie/internal/store"
)

// Run exercises a minimal compliance suite against a store.Store
// implementation. Implementations should provide a clean, isolated store and
// return it from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	threadID := "t-" + uuid.New().String()

	// Checkpoints: missing thread
	if _, err := s.Checkpoints().Load(ctx, threadID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Load missing thread: want ErrNotFound, got %v", err)
	}

	// First save (version 0 -> 1) plus TTL upsert
	st := model.NewDialogueState()
	st.PhoneNumber = "5551234567"
	st.Append(model.Message{Role: model.RoleUser, Content: "hello"})
	cp := &model.Checkpoint{ThreadID: threadID, State: st}
	now := time.Now().UTC().Truncate(time.Second)
	if err := s.Checkpoints().Save(ctx, cp, now); err != nil {
		t.Fatalf("Save new checkpoint: %v", err)
	}
	if cp.Version != 1 {
		t.Fatalf("Save: want version 1, got %d", cp.Version)
	}

	got, err := s.Checkpoints().Load(ctx, threadID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Version != 1 || len(got.State.Messages) != 1 || got.State.Messages[0].Content != "hello" {
		t.Fatalf("Load: unexpected checkpoint %+v", got)
	}

	// Stale version rejected
	stale := &model.Checkpoint{ThreadID: threadID, State: st, Version: 0}
	if err := s.Checkpoints().Save(ctx, stale, now); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("Save with stale version: want ErrConflict, got %v", err)
	}

	// Second save bumps version
	got.State.Append(model.Message{Role: model.RoleAssistant, Content: "hi"})
	if err := s.Checkpoints().Save(ctx, got, now.Add(time.Minute)); err != nil {
		t.Fatalf("Save second checkpoint: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("Save: want version 2, got %d", got.Version)
	}

	// TTL record tracked
	ttls, err := s.Sessions().List(ctx)
	if err != nil {
		t.Fatalf("Sessions.List: %v", err)
	}
	found := false
	for _, r := range ttls {
		if r.ThreadID == threadID {
			found = true
			if !r.LastMessageTime.Equal(now.Add(time.Minute)) {
				t.Fatalf("TTL: want %v, got %v", now.Add(time.Minute), r.LastMessageTime)
			}
		}
	}
	if !found {
		t.Fatalf("Sessions.List: thread %s missing", threadID)
	}

	// Delete removes checkpoint and TTL record; repeat delete is a no-op
	if err := s.Checkpoints().Delete(ctx, threadID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Checkpoints().Load(ctx, threadID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Load after delete: want ErrNotFound, got %v", err)
	}
	if err := s.Checkpoints().Delete(ctx, threadID); err != nil {
		t.Fatalf("Delete again: %v", err)
	}

	// Verifications: singleton semantics
	if _, err := s.Verifications().Active(ctx); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Active on empty table: want ErrNotFound, got %v", err)
	}
	recA := &model.VerificationRecord{
		PhoneNumber: "5551230001", AccountID: "AC-1",
		VerifiedAt: now, VerificationMethod: "ui_verification", SessionID: "sess-a",
	}
	if err := s.Verifications().Replace(ctx, recA); err != nil {
		t.Fatalf("Replace A: %v", err)
	}
	recB := &model.VerificationRecord{
		PhoneNumber: "5551230002", AccountID: "AC-2",
		VerifiedAt: now.Add(time.Second), VerificationMethod: "ui_verification",
	}
	if err := s.Verifications().Replace(ctx, recB); err != nil {
		t.Fatalf("Replace B: %v", err)
	}
	active, err := s.Verifications().Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active.PhoneNumber != "5551230002" || active.AccountID != "AC-2" {
		t.Fatalf("Active: want B, got %+v", active)
	}
	if _, err := s.Verifications().ActiveByPhone(ctx, "5551230001"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("ActiveByPhone A after replace: want ErrNotFound, got %v", err)
	}
	if err := s.Verifications().Deactivate(ctx, "5551230002"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := s.Verifications().Active(ctx); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Active after deactivate: want ErrNotFound, got %v", err)
	}
	if err := s.Verifications().DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}

	// Customers and billing
	acct := "AC-" + uuid.New().String()
	cust := &model.Customer{
		AccountID: acct, Name: "Pat Sample", Address: "12 Well Rd, Lexington, NC 27292, USA",
		ZipCode: "27292", Phone: "5559990000", AccountType: "residential", Status: "active",
	}
	if err := s.Customers().Create(ctx, cust); err != nil {
		t.Fatalf("Customers.Create: %v", err)
	}
	if got, err := s.Customers().GetByPhone(ctx, "5559990000"); err != nil || got.AccountID != acct {
		t.Fatalf("GetByPhone: got=%+v err=%v", got, err)
	}
	if _, err := s.Customers().GetByPhone(ctx, "0000000000"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetByPhone unknown: want ErrNotFound, got %v", err)
	}
	if err := s.Customers().PutBilling(ctx, &model.BillingInfo{AccountID: acct, CurrentBalance: 88.4, RawBalance: 90.1, DaysLeft: 12}); err != nil {
		t.Fatalf("PutBilling: %v", err)
	}
	if b, err := s.Customers().BillingByAccount(ctx, acct); err != nil || b.CurrentBalance != 88.4 {
		t.Fatalf("BillingByAccount: got=%+v err=%v", b, err)
	}
	if err := s.Customers().PutReading(ctx, &model.MeterReading{AccountID: acct, ReadingValue: 1200, ReadDate: now, Usage: 430}); err != nil {
		t.Fatalf("PutReading: %v", err)
	}
	if r, err := s.Customers().LatestReading(ctx, acct); err != nil || r.Usage != 430 {
		t.Fatalf("LatestReading: got=%+v err=%v", r, err)
	}

	// Outages: zip matching uses word boundaries
	ref := "OUT-" + uuid.New().String()
	out := &model.Outage{
		ReferenceNumber: ref, AccountID: acct, Name: "Pat Sample",
		Address: "12 Well Rd, Lexington, NC 27292, USA",
		Nature:  "Water", Scale: "medium", StartTime: now,
		Latitude: 35.82, Longitude: -80.25,
	}
	if err := s.Outages().Create(ctx, out); err != nil {
		t.Fatalf("Outages.Create: %v", err)
	}
	if got, err := s.Outages().GetByReference(ctx, ref); err != nil || got.Status != "Reported" {
		t.Fatalf("GetByReference: got=%+v err=%v", got, err)
	}
	if hits, err := s.Outages().ActiveByZip(ctx, "27292"); err != nil || len(hits) != 1 {
		t.Fatalf("ActiveByZip 27292: n=%d err=%v", len(hits), err)
	}
	if hits, err := s.Outages().ActiveByZip(ctx, "2729"); err != nil || len(hits) != 0 {
		t.Fatalf("ActiveByZip partial zip: n=%d err=%v", len(hits), err)
	}
}
