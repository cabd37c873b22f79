package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/moative/billie/internal/model"
	"github.com/moative/billie/internal/store"
	"github.com/moative/billie/internal/store/storetest"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })
	s, err := NewWithDB(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestSqliteStore_Conformance(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestCheckpointSave_AtomicWithTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := model.NewDialogueState()
	st.Append(model.Message{Role: model.RoleUser, Content: "first"})
	cp := &model.Checkpoint{ThreadID: "thread-a", State: st}
	ts := time.Date(2025, 7, 14, 9, 0, 0, 0, time.UTC)
	if err := s.Checkpoints().Save(ctx, cp, ts); err != nil {
		t.Fatalf("save: %v", err)
	}

	ttls, err := s.Sessions().List(ctx)
	if err != nil {
		t.Fatalf("list ttl: %v", err)
	}
	if len(ttls) != 1 || ttls[0].ThreadID != "thread-a" || !ttls[0].LastMessageTime.Equal(ts) {
		t.Fatalf("ttl record not written with checkpoint: %+v", ttls)
	}
}

func TestCheckpointSave_ConflictLeavesPriorStateReadable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := model.NewDialogueState()
	st.Append(model.Message{Role: model.RoleUser, Content: "kept"})
	cp := &model.Checkpoint{ThreadID: "thread-b", State: st}
	if err := s.Checkpoints().Save(ctx, cp, time.Now()); err != nil {
		t.Fatalf("save: %v", err)
	}

	// A writer carrying a stale version must not clobber the stored state.
	other := model.NewDialogueState()
	other.Append(model.Message{Role: model.RoleUser, Content: "lost"})
	stale := &model.Checkpoint{ThreadID: "thread-b", State: other, Version: 0}
	if err := s.Checkpoints().Save(ctx, stale, time.Now()); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}

	got, err := s.Checkpoints().Load(ctx, "thread-b")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Version != 1 || got.State.Messages[0].Content != "kept" {
		t.Fatalf("prior state corrupted: %+v", got)
	}
}

func TestVerificationReplace_SingletonAcrossManyVerifies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	phones := []string{"5550000001", "5550000002", "5550000003", "5550000004"}
	for i, p := range phones {
		rec := &model.VerificationRecord{
			PhoneNumber: p, AccountID: "AC-" + p,
			VerifiedAt: time.Now().UTC().Add(time.Duration(i) * time.Second), VerificationMethod: "ui_verification",
		}
		if err := s.Verifications().Replace(ctx, rec); err != nil {
			t.Fatalf("replace %s: %v", p, err)
		}

		active, err := s.Verifications().Active(ctx)
		if err != nil {
			t.Fatalf("active after %s: %v", p, err)
		}
		if active.PhoneNumber != p {
			t.Fatalf("want active %s, got %s", p, active.PhoneNumber)
		}
	}

	// All prior numbers were invalidated, not just flagged over.
	for _, p := range phones[:3] {
		if _, err := s.Verifications().ActiveByPhone(ctx, p); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("stale record for %s survived: %v", p, err)
		}
	}
}
