package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/moative/billie/internal/address"
	"github.com/moative/billie/internal/agent"
	"github.com/moative/billie/internal/config"
	"github.com/moative/billie/internal/llm"
	"github.com/moative/billie/internal/model"
	"github.com/moative/billie/internal/store"
	"github.com/moative/billie/internal/store/sqlite"
	"github.com/moative/billie/internal/tools"
	"github.com/moative/billie/internal/verification"
)

func newServer(t *testing.T) (*httptest.Server, store.Store, *llm.ScriptedProvider) {
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
	gate := verification.NewGate(s, zerolog.Nop())
	orch := agent.New(config.NewForTesting(), agent.Deps{
		Store: s, Gate: gate, Provider: provider,
		Registry: func(sessionID string) *tools.Registry {
			return tools.NewRegistry(tools.Deps{
				Store: s, Gate: gate, LLM: provider,
				Validator: address.StaticValidator{},
				Log:       zerolog.Nop(),
				SessionID: sessionID,
			})
		},
		Log: zerolog.Nop(),
	})

	h := NewHandler(orch, gate, s, zerolog.Nop())
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv, s, provider
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	srv, _, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestChat(t *testing.T) {
	srv, _, provider := newServer(t)
	provider.Reply("Hello! How can I help you today?")

	resp := postJSON(t, srv.URL+"/api/chat",
		`{"thread_id": "t-1", "phone_number": "5550001111", "message": "Hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if !strings.Contains(body["reply"], "Hello") || body["thread_id"] != "t-1" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestChat_MissingPhoneIs400(t *testing.T) {
	srv, _, _ := newServer(t)
	resp := postJSON(t, srv.URL+"/api/chat", `{"thread_id": "t-1", "message": "Hi"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
}

func TestClearThread(t *testing.T) {
	srv, s, provider := newServer(t)
	provider.Reply("Hi!")

	resp := postJSON(t, srv.URL+"/api/chat",
		`{"thread_id": "t-clear", "phone_number": "5550001111", "message": "Hi"}`)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/threads/t-clear", nil)
	dresp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE thread: %v", err)
	}
	defer dresp.Body.Close()
	if dresp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", dresp.StatusCode)
	}

	if _, err := s.Checkpoints().Load(context.Background(), "t-clear"); err == nil {
		t.Fatalf("checkpoint should be deleted")
	}
}

func TestSweep(t *testing.T) {
	srv, s, _ := newServer(t)
	ctx := context.Background()

	// An old thread written directly to the store, 46 minutes stale.
	cp := &model.Checkpoint{ThreadID: "t-old", State: model.NewDialogueState()}
	if err := s.Checkpoints().Save(ctx, cp, time.Now().UTC().Add(-46*time.Minute)); err != nil {
		t.Fatalf("seed old thread: %v", err)
	}

	resp := postJSON(t, srv.URL+"/api/threads/sweep", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	body := decode[map[string]int](t, resp)
	if body["cleared"] != 1 {
		t.Fatalf("want 1 cleared, got %v", body)
	}
}

func TestVerificationEndpoints(t *testing.T) {
	srv, s, _ := newServer(t)
	ctx := context.Background()

	if err := s.Customers().Create(ctx, &model.Customer{
		AccountID: "AC-5", Name: "Kim Ortega", Phone: "5554443333",
		Address: "1 Plant Rd, Lexington, NC 27292, USA", ZipCode: "27292", Status: "active",
	}); err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	// Unknown phone cannot verify.
	resp := postJSON(t, srv.URL+"/api/verification/verify", `{"phone_number": "5550000000"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown phone: want 404, got %d", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/verification/verify",
		`{"phone_number": "5554443333", "session_id": "sess-ui"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify: want 200, got %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["account_id"] != "AC-5" {
		t.Fatalf("unexpected verify body: %v", body)
	}

	sresp, err := http.Get(srv.URL + "/api/verification/status?phone=5554443333")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	status := decode[verification.Status](t, sresp)
	if !status.Verified || status.AccountID != "AC-5" {
		t.Fatalf("unexpected status: %+v", status)
	}

	// Deactivating by phone retires the record without deleting it.
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/verification/5554443333", nil)
	dresp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE verification by phone: %v", err)
	}
	dresp.Body.Close()
	if dresp.StatusCode != http.StatusOK {
		t.Fatalf("deactivate: want 200, got %d", dresp.StatusCode)
	}
	sresp, err = http.Get(srv.URL + "/api/verification/status?phone=5554443333")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	status = decode[verification.Status](t, sresp)
	if status.Verified {
		t.Fatalf("deactivated phone still verified: %+v", status)
	}

	resp = postJSON(t, srv.URL+"/api/verification/verify",
		`{"phone_number": "5554443333", "session_id": "sess-ui"}`)
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/api/verification", nil)
	dresp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE verifications: %v", err)
	}
	dresp.Body.Close()

	sresp, err = http.Get(srv.URL + "/api/verification/status?phone=5554443333")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	status = decode[verification.Status](t, sresp)
	if status.Verified || status.Exists {
		t.Fatalf("verifications should be cleared: %+v", status)
	}
}
