// Package api exposes the conversation engine over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/moative/billie/internal/agent"
	"github.com/moative/billie/internal/api/respond"
	"github.com/moative/billie/internal/model"
	"github.com/moative/billie/internal/store"
	"github.com/moative/billie/internal/verification"
)

// Handler wires the HTTP surface to the orchestrator.
type Handler struct {
	orch  *agent.Orchestrator
	gate  *verification.Gate
	store store.Store
	log   zerolog.Logger
}

func NewHandler(orch *agent.Orchestrator, gate *verification.Gate, s store.Store, log zerolog.Logger) *Handler {
	return &Handler{orch: orch, gate: gate, store: s, log: log.With().Str("component", "api").Logger()}
}

// Router builds the service's HTTP router.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(Recover)
	r.HandleFunc("/api/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/api/chat", h.chat).Methods(http.MethodPost)
	r.HandleFunc("/api/threads/sweep", h.sweep).Methods(http.MethodPost)
	r.HandleFunc("/api/threads/{threadId}", h.clearThread).Methods(http.MethodDelete)
	r.HandleFunc("/api/verification/status", h.verificationStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/verification/verify", h.verify).Methods(http.MethodPost)
	r.HandleFunc("/api/verification/sessions/{sessionId}", h.clearSessionVerifications).Methods(http.MethodDelete)
	r.HandleFunc("/api/verification/{phoneNumber}", h.deactivate).Methods(http.MethodDelete)
	r.HandleFunc("/api/verification", h.clearVerifications).Methods(http.MethodDelete)
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	ThreadID    string `json:"thread_id"`
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
}

type chatResponse struct {
	ThreadID string `json:"thread_id"`
	Reply    string `json:"reply"`
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reply, err := h.orch.ProcessTurn(r.Context(), req.ThreadID, req.PhoneNumber, req.Message)
	if err != nil {
		h.log.Error().Err(err).Str("thread_id", req.ThreadID).Msg("chat turn failed")
		respond.FromError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, chatResponse{ThreadID: req.ThreadID, Reply: reply})
}

func (h *Handler) clearThread(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadId"]
	if err := h.orch.ClearThread(r.Context(), threadID); err != nil {
		respond.FromError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"thread_id": threadID, "status": "cleared"})
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.orch.SweepExpired(r.Context())
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (h *Handler) verificationStatus(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		respond.WriteError(w, http.StatusBadRequest, "phone query parameter is required")
		return
	}
	status, err := h.gate.CheckStatus(r.Context(), phone)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, status)
}

type verifyRequest struct {
	PhoneNumber string `json:"phone_number"`
	SessionID   string `json:"session_id"`
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PhoneNumber == "" {
		respond.FromError(w, fmt.Errorf("%w: phone_number is required", model.ErrValidation))
		return
	}

	cust, err := h.store.Customers().GetByPhone(r.Context(), req.PhoneNumber)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	if err := h.gate.Verify(r.Context(), req.PhoneNumber, cust.AccountID, req.SessionID, "ui_verification"); err != nil {
		respond.FromError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{
		"phone_number": req.PhoneNumber,
		"account_id":   cust.AccountID,
		"status":       "verified",
	})
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	phone := mux.Vars(r)["phoneNumber"]
	if err := h.gate.Deactivate(r.Context(), phone); err != nil {
		respond.FromError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"phone_number": phone, "status": "deactivated"})
}

func (h *Handler) clearSessionVerifications(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if err := h.gate.ClearBySession(r.Context(), sessionID); err != nil {
		respond.FromError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "cleared", "session_id": sessionID})
}

func (h *Handler) clearVerifications(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.ClearAll(r.Context()); err != nil {
		respond.FromError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
