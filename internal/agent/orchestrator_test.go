package agent

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/moative/billie/internal/address"
	"github.com/moative/billie/internal/config"
	"github.com/moative/billie/internal/llm"
	"github.com/moative/billie/internal/model"
	"github.com/moative/billie/internal/store"
	"github.com/moative/billie/internal/store/sqlite"
	"github.com/moative/billie/internal/tools"
	"github.com/moative/billie/internal/verification"
)

type fixture struct {
	orch     *Orchestrator
	store    store.Store
	provider *llm.ScriptedProvider
	clock    *fakeClock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })
	s, err := sqlite.NewWithDB(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	provider := llm.NewScriptedProvider()
	provider.ExtractByContains["Extract the full service address"] = "NONE"
	provider.ExtractByContains["current date and time"] = "NOW"

	clock := &fakeClock{t: time.Date(2025, 7, 14, 9, 0, 0, 0, time.UTC)}
	gate := verification.NewGate(s, zerolog.Nop()).WithClock(clock.Now)

	orch := New(config.NewForTesting(), Deps{
		Store:    s,
		Gate:     gate,
		Provider: provider,
		Registry: func(sessionID string) *tools.Registry {
			return tools.NewRegistry(tools.Deps{
				Store: s, Gate: gate, LLM: provider,
				Validator: address.StaticValidator{},
				Log:       zerolog.Nop(),
				Now:       clock.Now,
				SessionID: sessionID,
			})
		},
		Log: zerolog.Nop(),
		Now: clock.Now,
	})
	return &fixture{orch: orch, store: s, provider: provider, clock: clock}
}

func seedLocalCustomer(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	cust := &model.Customer{
		AccountID: "AC-301", Name: "Dana Whitfield",
		Address: "9 Mill St, Lexington, NC 27292, USA", ZipCode: "27292",
		Phone: "5552223333", AccountType: "residential", Status: "active",
	}
	if err := s.Customers().Create(ctx, cust); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	if err := s.Customers().PutBilling(ctx, &model.BillingInfo{
		AccountID: "AC-301", CurrentBalance: 61.20, RawBalance: 61.20, DaysLeft: 14,
	}); err != nil {
		t.Fatalf("seed billing: %v", err)
	}
}

func TestProcessTurn_KnownCustomerBalance(t *testing.T) {
	f := newFixture(t)
	seedLocalCustomer(t, f.store)
	ctx := context.Background()

	f.provider.
		CallTool("call-1", "get_bill_balance", `{}`).
		Reply("Your current balance is $61.20 with 14 days left in this cycle.")

	reply, err := f.orch.ProcessTurn(ctx, "thread-1", "5552223333", "What's my balance?")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if !strings.Contains(reply, "$61.20") {
		t.Fatalf("reply missing balance: %s", reply)
	}

	cp, err := f.store.Checkpoints().Load(ctx, "thread-1")
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	st := cp.State
	if !st.VerifiedCustomer || st.Identity == nil || st.Identity.AccountID != "AC-301" {
		t.Fatalf("caller should be verified against the directory: %+v", st)
	}

	// user -> assistant(tool call) -> tool -> assistant
	roles := make([]model.Role, 0, len(st.Messages))
	for _, m := range st.Messages {
		roles = append(roles, m.Role)
	}
	want := []model.Role{model.RoleUser, model.RoleAssistant, model.RoleTool, model.RoleAssistant}
	if len(roles) != len(want) {
		t.Fatalf("want roles %v, got %v", want, roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("message %d: want role %s, got %s", i, want[i], roles[i])
		}
	}
	if st.Messages[2].ToolCallID != "call-1" || st.Messages[2].Name != "get_bill_balance" {
		t.Fatalf("tool result not linked to its call: %+v", st.Messages[2])
	}
}

func TestProcessTurn_UnknownCallerReportsOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.provider.ExtractByContains["Extract the full service address"] = "9 Mill St, Lexington, NC 27292, USA"
	f.provider.
		CallTool("call-1", "report_outage", `{"description": "no water at 9 Mill St, Lexington, NC 27292", "nature": "No water"}`).
		Reply("Your outage is filed. Reference: see above.")

	reply, err := f.orch.ProcessTurn(ctx, "thread-out", "5550001111", "My water is out at 9 Mill St, Lexington, NC 27292")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if reply == "" {
		t.Fatalf("want a reply")
	}

	cp, err := f.store.Checkpoints().Load(ctx, "thread-out")
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if cp.State.VerifiedCustomer {
		t.Fatalf("unknown caller must stay unverified")
	}

	// The tool result recorded in the transcript carries the reference number.
	var toolResult string
	for _, m := range cp.State.Messages {
		if m.Role == model.RoleTool {
			toolResult = m.Content
		}
	}
	if !strings.Contains(toolResult, "OUT-") {
		t.Fatalf("outage reference missing from tool result: %s", toolResult)
	}
	if hits, _ := f.store.Outages().ActiveByZip(ctx, "27292"); len(hits) != 1 {
		t.Fatalf("outage not persisted")
	}
}

func TestProcessTurn_FailedTurnLeavesCheckpointUntouched(t *testing.T) {
	f := newFixture(t)
	seedLocalCustomer(t, f.store)
	ctx := context.Background()

	f.provider.Reply("Hello Dana, how can I help?")
	if _, err := f.orch.ProcessTurn(ctx, "thread-2", "5552223333", "Hi"); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	before, err := f.store.Checkpoints().Load(ctx, "thread-2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	f.provider.Fail(errors.New("upstream exploded"))
	if _, err := f.orch.ProcessTurn(ctx, "thread-2", "5552223333", "What's my balance?"); err == nil {
		t.Fatalf("want error from failed completion")
	}

	after, err := f.store.Checkpoints().Load(ctx, "thread-2")
	if err != nil {
		t.Fatalf("load after failure: %v", err)
	}
	if after.Version != before.Version || len(after.State.Messages) != len(before.State.Messages) {
		t.Fatalf("failed turn mutated the checkpoint: before=%d/%d after=%d/%d",
			before.Version, len(before.State.Messages), after.Version, len(after.State.Messages))
	}
}

func TestProcessTurn_ToolHopLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The model keeps asking for tools and never produces a reply.
	for i := 0; i < 10; i++ {
		f.provider.CallTool("call-x", "check_phone_verification_status", `{}`)
	}

	_, err := f.orch.ProcessTurn(ctx, "thread-loop", "5550001111", "hello")
	if !errors.Is(err, model.ErrToolExecution) {
		t.Fatalf("want ErrToolExecution, got %v", err)
	}
	if _, err := f.store.Checkpoints().Load(ctx, "thread-loop"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("aborted turn must not persist state")
	}
}

func TestProcessTurn_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.ProcessTurn(ctx, "t", "", "hi"); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("missing phone: want ErrValidation, got %v", err)
	}
	if _, err := f.orch.ProcessTurn(ctx, "", "5550001111", "hi"); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("missing thread: want ErrValidation, got %v", err)
	}
	if _, err := f.orch.ProcessTurn(ctx, "t", "5550001111", ""); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("missing message: want ErrValidation, got %v", err)
	}
}

func TestClearThread_FreshStateAfterwards(t *testing.T) {
	f := newFixture(t)
	seedLocalCustomer(t, f.store)
	ctx := context.Background()

	f.provider.Reply("Hi Dana!")
	if _, err := f.orch.ProcessTurn(ctx, "thread-3", "5552223333", "Hi"); err != nil {
		t.Fatalf("turn: %v", err)
	}

	if err := f.orch.ClearThread(ctx, "thread-3"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := f.store.Checkpoints().Load(ctx, "thread-3"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("checkpoint should be gone, got %v", err)
	}

	// Next turn starts from a clean transcript.
	f.provider.Reply("Hello again!")
	if _, err := f.orch.ProcessTurn(ctx, "thread-3", "5552223333", "Hello?"); err != nil {
		t.Fatalf("turn after clear: %v", err)
	}
	cp, err := f.store.Checkpoints().Load(ctx, "thread-3")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cp.State.Messages) != 2 || cp.Version != 1 {
		t.Fatalf("state should be fresh: messages=%d version=%d", len(cp.State.Messages), cp.Version)
	}
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.provider.Reply("Hi there")
	if _, err := f.orch.ProcessTurn(ctx, "thread-old", "5550001111", "Hi"); err != nil {
		t.Fatalf("old thread turn: %v", err)
	}

	f.clock.Advance(36 * time.Minute)
	f.provider.Reply("Hello!")
	if _, err := f.orch.ProcessTurn(ctx, "thread-new", "5550002222", "Hello"); err != nil {
		t.Fatalf("new thread turn: %v", err)
	}

	// Old thread is now 46 minutes idle, new one 10 minutes.
	f.clock.Advance(10 * time.Minute)
	cleared, err := f.orch.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("want 1 cleared, got %d", cleared)
	}
	if _, err := f.store.Checkpoints().Load(ctx, "thread-old"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expired thread should be cleared, got %v", err)
	}
	if _, err := f.store.Checkpoints().Load(ctx, "thread-new"); err != nil {
		t.Fatalf("active thread should survive the sweep: %v", err)
	}
}
