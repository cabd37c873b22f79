// Package tools implements the callable tools exposed to the model and the
// registry that dispatches them. Tool failures are reported to the caller as
// text, never as errors: a broken tool must not abort the conversation turn.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/moative/billie/internal/address"
	"github.com/moative/billie/internal/llm"
	"github.com/moative/billie/internal/model"
	"github.com/moative/billie/internal/store"
	"github.com/moative/billie/internal/verification"
)

// ReferenceTime anchors relative time expressions ("two hours ago") in the
// demo dataset.
var ReferenceTime = time.Date(2025, 7, 14, 9, 0, 0, 0, time.UTC)

// WaterRatePerGallon is the flat usage rate applied to meter readings.
const WaterRatePerGallon = 0.0125

// PaymentBaseURL is the hosted payment page.
const PaymentBaseURL = "https://pay.acmeutilities.com/pay"

const toolFailureReply = "I ran into a problem handling that request. Please try again in a moment."

// RunFunc executes one tool call against the current dialogue state. The
// returned string goes back to the model as the tool result.
type RunFunc func(ctx context.Context, st *model.DialogueState, args json.RawMessage) (string, error)

// Tool couples a model-visible definition with its implementation.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Run         RunFunc
}

// Deps carries everything the builtin tools need.
type Deps struct {
	Store     store.Store
	Gate      *verification.Gate
	LLM       llm.Provider
	Validator address.Validator
	Log       zerolog.Logger
	Now       func() time.Time

	// SessionID tags verification records created by tools.
	SessionID string
}

// Registry holds the registered tools in registration order.
type Registry struct {
	tools map[string]*Tool
	order []string
	log   zerolog.Logger
}

// NewRegistry builds a registry with all builtin tools registered.
func NewRegistry(d Deps) *Registry {
	if d.Now == nil {
		d.Now = func() time.Time { return ReferenceTime }
	}
	r := &Registry{
		tools: make(map[string]*Tool),
		log:   d.Log.With().Str("component", "tools").Logger(),
	}
	r.Register(reportOutageTool(d))
	r.Register(checkOutageStatusTool(d))
	r.Register(getMeterReadingTool(d))
	r.Register(getBillBalanceTool(d))
	r.Register(getPaymentLinkTool(d))
	r.Register(analyzeUsagePatternsTool(d))
	r.Register(checkPhoneVerificationStatusTool(d))
	r.Register(verifyPhoneNumberTool(d))
	r.Register(enrollPaperlessBillingTool(d))
	return r
}

func (r *Registry) Register(t *Tool) {
	if _, dup := r.tools[t.Name]; !dup {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Defs returns the tool definitions to advertise to the model.
func (r *Registry) Defs() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// Execute runs one tool call. Unknown tools and tool errors come back as
// text so the model can relay the failure and keep the conversation alive.
func (r *Registry) Execute(ctx context.Context, st *model.DialogueState, call model.ToolCall) string {
	t, ok := r.tools[call.Name]
	if !ok {
		r.log.Warn().Str("tool", call.Name).Msg("unknown tool requested")
		return "That capability is not available."
	}

	out, err := t.Run(ctx, st, call.Arguments)
	if err != nil {
		r.log.Error().Err(err).Str("tool", call.Name).Msg("tool execution failed")
		if out != "" {
			return out
		}
		return toolFailureReply
	}
	r.log.Debug().Str("tool", call.Name).Msg("tool executed")
	return out
}
