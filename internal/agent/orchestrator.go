// Package agent runs the conversation loop: load the thread's checkpoint,
// resolve the caller's identity, drive the model and its tools to a reply,
// and persist the new state in a single write.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moative/billie/internal/config"
	"github.com/moative/billie/internal/legacy"
	"github.com/moative/billie/internal/llm"
	"github.com/moative/billie/internal/model"
	"github.com/moative/billie/internal/store"
	"github.com/moative/billie/internal/tools"
	"github.com/moative/billie/internal/verification"
)

// Orchestrator coordinates one conversation turn end to end.
type Orchestrator struct {
	store    store.Store
	gate     *verification.Gate
	provider llm.Provider
	legacy   *legacy.Client
	registry func(sessionID string) *tools.Registry
	log      zerolog.Logger
	now      func() time.Time

	maxToolHops int
	sessionTTL  time.Duration

	mu      sync.Mutex
	threads map[string]*sync.Mutex
}

// Deps carries the orchestrator's collaborators.
type Deps struct {
	Store    store.Store
	Gate     *verification.Gate
	Provider llm.Provider
	Legacy   *legacy.Client
	// Registry builds the tool registry for a session. Tests swap this to
	// inject scripted tools.
	Registry func(sessionID string) *tools.Registry
	Log      zerolog.Logger
	Now      func() time.Time
}

func New(cfg *config.Config, d Deps) *Orchestrator {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Orchestrator{
		store:       d.Store,
		gate:        d.Gate,
		provider:    d.Provider,
		legacy:      d.Legacy,
		registry:    d.Registry,
		log:         d.Log.With().Str("component", "agent").Logger(),
		now:         d.Now,
		maxToolHops: cfg.MaxToolHops,
		sessionTTL:  cfg.SessionTTL(),
		threads:     make(map[string]*sync.Mutex),
	}
}

// lockThread serializes turns on one thread while leaving other threads free.
func (o *Orchestrator) lockThread(threadID string) func() {
	o.mu.Lock()
	m, ok := o.threads[threadID]
	if !ok {
		m = &sync.Mutex{}
		o.threads[threadID] = m
	}
	o.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// ProcessTurn handles one user message on a thread and returns the assistant
// reply. State is written once, after the reply is complete, so a failed turn
// leaves the previous checkpoint untouched.
func (o *Orchestrator) ProcessTurn(ctx context.Context, threadID, phone, userMessage string) (string, error) {
	if threadID == "" {
		return "", fmt.Errorf("%w: thread id is required", model.ErrValidation)
	}
	if phone == "" {
		return "", fmt.Errorf("%w: phone number is required", model.ErrValidation)
	}
	if userMessage == "" {
		return "", fmt.Errorf("%w: message is required", model.ErrValidation)
	}

	unlock := o.lockThread(threadID)
	defer unlock()

	cp, err := o.store.Checkpoints().Load(ctx, threadID)
	if errors.Is(err, model.ErrNotFound) {
		cp = &model.Checkpoint{ThreadID: threadID, State: model.NewDialogueState()}
	} else if err != nil {
		return "", err
	}
	st := cp.State
	st.PhoneNumber = phone

	if !st.VerifiedCustomer {
		o.resolveIdentity(ctx, threadID, st)
	}

	st.Append(model.Message{Role: model.RoleUser, Content: userMessage})

	reply, err := o.converse(ctx, threadID, st)
	if err != nil {
		return "", err
	}
	st.Append(model.Message{Role: model.RoleAssistant, Content: reply})

	cp.State = st
	if err := o.store.Checkpoints().Save(ctx, cp, o.now().UTC()); err != nil {
		return "", err
	}
	o.log.Info().Str("thread_id", threadID).Int("messages", len(st.Messages)).
		Bool("verified", st.VerifiedCustomer).Msg("turn complete")
	return reply, nil
}

// resolveIdentity tries the legacy billing chain first, then the local
// directory. Both failing is not an error: the caller proceeds unverified and
// can still report outages.
func (o *Orchestrator) resolveIdentity(ctx context.Context, threadID string, st *model.DialogueState) {
	phone := st.PhoneNumber

	if o.legacy != nil && o.legacy.Configured() {
		accountID, err := o.legacy.ResolveByPhone(ctx, phone)
		if err == nil {
			snap, serr := o.legacy.UsageSnapshot(ctx, accountID)
			if serr == nil {
				st.VerifiedCustomer = true
				st.Identity = &model.Identity{
					Source:       model.IdentityLegacy,
					AccountID:    accountID,
					CustomerName: snap.Name,
					Snapshot:     snap,
				}
				if verr := o.gate.Verify(ctx, phone, accountID, threadID, "ui_verification"); verr != nil {
					o.log.Warn().Err(verr).Msg("record legacy verification")
				}
				return
			}
			o.log.Warn().Err(serr).Str("account_id", accountID).Msg("legacy snapshot failed")
		} else if !errors.Is(err, model.ErrNotFound) {
			o.log.Warn().Err(err).Msg("legacy account resolution failed")
		}
	}

	cust, err := o.store.Customers().GetByPhone(ctx, phone)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			o.log.Warn().Err(err).Msg("directory lookup failed")
		}
		o.log.Debug().Str("thread_id", threadID).Msg("caller proceeds unverified")
		return
	}

	st.VerifiedCustomer = true
	st.Identity = &model.Identity{
		Source:            model.IdentityLocal,
		AccountID:         cust.AccountID,
		CustomerName:      cust.Name,
		RegisteredAddress: cust.Address,
	}
	if verr := o.gate.Verify(ctx, phone, cust.AccountID, threadID, "ui_verification"); verr != nil {
		o.log.Warn().Err(verr).Msg("record directory verification")
	}
}

// converse drives the model until it produces a plain reply, executing tool
// calls along the way.
func (o *Orchestrator) converse(ctx context.Context, threadID string, st *model.DialogueState) (string, error) {
	reg := o.registry(threadID)
	defs := reg.Defs()

	for hop := 0; hop <= o.maxToolHops; hop++ {
		msgs := make([]model.Message, 0, len(st.Messages)+1)
		msgs = append(msgs, model.Message{Role: model.RoleSystem, Content: systemPrompt(st, o.now())})
		msgs = append(msgs, st.Messages...)

		completion, err := o.provider.Complete(ctx, msgs, defs)
		if err != nil {
			return "", err
		}

		if len(completion.ToolCalls) == 0 {
			return completion.Content, nil
		}

		st.Append(model.Message{
			Role:      model.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})
		for _, call := range completion.ToolCalls {
			result := reg.Execute(ctx, st, call)
			st.Append(model.Message{
				Role:       model.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}
	return "", fmt.Errorf("%w: exceeded %d tool hops on thread %s", model.ErrToolExecution, o.maxToolHops, threadID)
}

// ClearThread deletes a thread's checkpoint and any verifications recorded
// under it.
func (o *Orchestrator) ClearThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return fmt.Errorf("%w: thread id is required", model.ErrValidation)
	}
	unlock := o.lockThread(threadID)
	defer unlock()

	if err := o.store.Checkpoints().Delete(ctx, threadID); err != nil {
		return err
	}
	if err := o.gate.ClearBySession(ctx, threadID); err != nil {
		return err
	}
	o.log.Info().Str("thread_id", threadID).Msg("thread cleared")
	return nil
}

// SweepExpired clears every thread whose last message is older than the
// session TTL. Per-thread failures are logged and skipped so one bad row
// cannot stall the sweep.
func (o *Orchestrator) SweepExpired(ctx context.Context) (int, error) {
	records, err := o.store.Sessions().List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := o.now().UTC().Add(-o.sessionTTL)

	cleared := 0
	for _, rec := range records {
		if !rec.LastMessageTime.Before(cutoff) {
			continue
		}
		if err := o.ClearThread(ctx, rec.ThreadID); err != nil {
			o.log.Warn().Err(err).Str("thread_id", rec.ThreadID).Msg("sweep: clear failed")
			continue
		}
		cleared++
	}
	if cleared > 0 {
		o.log.Info().Int("cleared", cleared).Msg("expired sessions swept")
	}
	return cleared, nil
}
