package tools

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/moative/billie/internal/address"
	"github.com/moative/billie/internal/llm"
	"github.com/moative/billie/internal/model"
	"github.com/moative/billie/internal/store"
	"github.com/moative/billie/internal/store/sqlite"
	"github.com/moative/billie/internal/verification"
)

func newFixture(t *testing.T) (*Registry, store.Store, *llm.ScriptedProvider) {
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

	reg := NewRegistry(Deps{
		Store:     s,
		Gate:      verification.NewGate(s, zerolog.Nop()),
		LLM:       provider,
		Validator: address.StaticValidator{},
		Log:       zerolog.Nop(),
		Now:       func() time.Time { return ReferenceTime },
		SessionID: "sess-test",
	})
	return reg, s, provider
}

func seedCustomer(t *testing.T, s store.Store) *model.Customer {
	t.Helper()
	cust := &model.Customer{
		AccountID: "AC-77", Name: "Jordan Reyes",
		Address: "44 Creek Ln, Lexington, NC 27292, USA", ZipCode: "27292",
		Phone: "5557770001", AccountType: "residential", Status: "active",
	}
	if err := s.Customers().Create(context.Background(), cust); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return cust
}

func run(t *testing.T, reg *Registry, st *model.DialogueState, name, args string) string {
	t.Helper()
	return reg.Execute(context.Background(), st, model.ToolCall{
		ID: "call-1", Name: name, Arguments: []byte(args),
	})
}

func TestReportOutage(t *testing.T) {
	reg, s, provider := newFixture(t)
	provider.ExtractByContains["Extract the full service address"] = "44 Creek Ln, Lexington, NC 27292, USA"

	st := model.NewDialogueState()
	out := run(t, reg, st, "report_outage", `{"description": "no water at 44 Creek Ln since this morning", "nature": "No water"}`)
	if !strings.Contains(out, "OUT-") {
		t.Fatalf("reply missing reference number: %s", out)
	}

	hits, err := s.Outages().ActiveByZip(context.Background(), "27292")
	if err != nil || len(hits) != 1 {
		t.Fatalf("outage not persisted: n=%d err=%v", len(hits), err)
	}
	if hits[0].Nature != "No water" || hits[0].Status != "Reported" {
		t.Fatalf("unexpected outage record: %+v", hits[0])
	}
	if !hits[0].StartTime.Equal(ReferenceTime) {
		t.Fatalf("start time should fall back to the clock: %v", hits[0].StartTime)
	}
}

func TestReportOutage_NoAddressAsksForOne(t *testing.T) {
	reg, s, _ := newFixture(t)

	st := model.NewDialogueState()
	out := run(t, reg, st, "report_outage", `{"description": "the water is out"}`)
	if !strings.Contains(out, "street address") {
		t.Fatalf("should ask for the address: %s", out)
	}
	if hits, _ := s.Outages().ActiveByZip(context.Background(), "27292"); len(hits) != 0 {
		t.Fatalf("nothing should be persisted without an address")
	}
}

func TestCheckOutageStatus_ByReference(t *testing.T) {
	reg, s, _ := newFixture(t)
	ctx := context.Background()

	out := &model.Outage{
		ReferenceNumber: "OUT-abc", Address: "44 Creek Ln, Lexington, NC 27292, USA",
		Nature: "Low pressure", Scale: "small", StartTime: ReferenceTime,
	}
	if err := s.Outages().Create(ctx, out); err != nil {
		t.Fatalf("seed outage: %v", err)
	}

	reply := run(t, reg, model.NewDialogueState(), "check_outage_status", `{"reference_number": "OUT-abc"}`)
	if !strings.Contains(reply, "OUT-abc") || !strings.Contains(reply, "Reported") {
		t.Fatalf("unexpected status reply: %s", reply)
	}

	reply = run(t, reg, model.NewDialogueState(), "check_outage_status", `{"reference_number": "OUT-missing"}`)
	if !strings.Contains(reply, "couldn't find") {
		t.Fatalf("missing reference should be reported gracefully: %s", reply)
	}
}

func TestVerifyPhoneNumber(t *testing.T) {
	reg, s, _ := newFixture(t)
	seedCustomer(t, s)

	st := model.NewDialogueState()
	reply := run(t, reg, st, "verify_phone_number", `{"phone_number": "(555) 777-0001"}`)
	if !strings.Contains(reply, "Jordan Reyes") {
		t.Fatalf("verification reply should greet the customer: %s", reply)
	}
	if !st.VerifiedCustomer || st.Identity == nil || st.Identity.AccountID != "AC-77" {
		t.Fatalf("state not updated: %+v", st)
	}

	active, err := s.Verifications().Active(context.Background())
	if err != nil {
		t.Fatalf("verification not recorded: %v", err)
	}
	if active.PhoneNumber != "5557770001" || active.VerificationMethod != "tool_verification" {
		t.Fatalf("unexpected verification record: %+v", active)
	}
}

func TestVerifyPhoneNumber_UnknownPhone(t *testing.T) {
	reg, _, _ := newFixture(t)

	st := model.NewDialogueState()
	reply := run(t, reg, st, "verify_phone_number", `{"phone_number": "5550009999"}`)
	if !strings.Contains(reply, "couldn't find an account") {
		t.Fatalf("unknown phone should not error: %s", reply)
	}
	if st.VerifiedCustomer {
		t.Fatalf("state must stay unverified")
	}
}

func TestGetBillBalance(t *testing.T) {
	reg, s, _ := newFixture(t)
	cust := seedCustomer(t, s)
	if err := s.Customers().PutBilling(context.Background(), &model.BillingInfo{
		AccountID: cust.AccountID, CurrentBalance: 61.20, RawBalance: 61.20, DaysLeft: 14,
	}); err != nil {
		t.Fatalf("seed billing: %v", err)
	}

	// Unverified callers get the verification nudge, not data.
	reply := run(t, reg, model.NewDialogueState(), "get_bill_balance", `{}`)
	if !strings.Contains(reply, "verify your account") {
		t.Fatalf("unverified caller leaked data: %s", reply)
	}

	local := model.NewDialogueState()
	local.VerifiedCustomer = true
	local.Identity = &model.Identity{Source: model.IdentityLocal, AccountID: cust.AccountID, CustomerName: cust.Name}
	reply = run(t, reg, local, "get_bill_balance", `{}`)
	if !strings.Contains(reply, "$61.20") || !strings.Contains(reply, "14 days") {
		t.Fatalf("unexpected local balance reply: %s", reply)
	}

	legacy := model.NewDialogueState()
	legacy.VerifiedCustomer = true
	legacy.Identity = &model.Identity{
		Source: model.IdentityLegacy, AccountID: "L-9", CustomerName: "Sam",
		Snapshot: &model.UsageSnapshot{Name: "Sam", Balance: 142.75, DaysLeft: 9},
	}
	reply = run(t, reg, legacy, "get_bill_balance", `{}`)
	if !strings.Contains(reply, "$142.75") || !strings.Contains(reply, "9 days") {
		t.Fatalf("unexpected legacy balance reply: %s", reply)
	}
}

func TestGetPaymentLink(t *testing.T) {
	reg, _, _ := newFixture(t)

	st := model.NewDialogueState()
	st.VerifiedCustomer = true
	st.Identity = &model.Identity{
		Source: model.IdentityLegacy, AccountID: "AC-42",
		Snapshot: &model.UsageSnapshot{Balance: 88.40},
	}
	reply := run(t, reg, st, "get_payment_link", `{}`)
	want := "https://pay.acmeutilities.com/pay/AC-42?amount=88.40"
	if !strings.Contains(reply, want) {
		t.Fatalf("want link %s in reply: %s", want, reply)
	}
}

func TestGetMeterReading(t *testing.T) {
	reg, s, _ := newFixture(t)
	cust := seedCustomer(t, s)
	ctx := context.Background()

	if err := s.Customers().PutReading(ctx, &model.MeterReading{
		AccountID: cust.AccountID, ReadingValue: 20450, ReadDate: ReferenceTime, Usage: 4000,
	}); err != nil {
		t.Fatalf("seed reading: %v", err)
	}

	// Needs an active verification, not just dialogue flags.
	reply := run(t, reg, model.NewDialogueState(), "get_meter_reading", `{}`)
	if !strings.Contains(reply, "verify your account") {
		t.Fatalf("unverified caller should be nudged: %s", reply)
	}

	st := model.NewDialogueState()
	run(t, reg, st, "verify_phone_number", `{"phone_number": "5557770001"}`)
	reply = run(t, reg, st, "get_meter_reading", `{}`)
	if !strings.Contains(reply, "20450") || !strings.Contains(reply, "$50.00") {
		t.Fatalf("want reading and 4000*0.0125 charge: %s", reply)
	}
}

func TestEnrollPaperlessAlwaysFailsGracefully(t *testing.T) {
	reg, _, _ := newFixture(t)

	st := model.NewDialogueState()
	st.VerifiedCustomer = true
	reply := run(t, reg, st, "enroll_paperless_billing", `{}`)
	if !strings.Contains(reply, "wasn't able to enroll") {
		t.Fatalf("failure must surface as text: %s", reply)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	reg, _, _ := newFixture(t)
	reply := run(t, reg, model.NewDialogueState(), "transfer_funds", `{}`)
	if !strings.Contains(reply, "not available") {
		t.Fatalf("unknown tool should come back as text: %s", reply)
	}
}

func TestDefsCoverAllBuiltins(t *testing.T) {
	reg, _, _ := newFixture(t)
	defs := reg.Defs()
	if len(defs) != 9 {
		t.Fatalf("want 9 builtin tools, got %d", len(defs))
	}
	seen := map[string]bool{}
	for _, d := range defs {
		seen[d.Name] = true
	}
	for _, name := range []string{
		"report_outage", "check_outage_status", "get_meter_reading",
		"get_bill_balance", "get_payment_link", "analyze_usage_patterns",
		"check_phone_verification_status", "verify_phone_number", "enroll_paperless_billing",
	} {
		if !seen[name] {
			t.Fatalf("missing builtin %s", name)
		}
	}
}
