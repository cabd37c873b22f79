package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/moative/billie/internal/model"
)

// ScriptedProvider replays a fixed sequence of completions. Extract answers
// come from a prompt-substring lookup. Useful for orchestrator and tool tests.
type ScriptedProvider struct {
	mu          sync.Mutex
	completions []*Completion
	errs        []error
	next        int

	// ExtractByContains maps a substring of the prompt to the canned reply.
	ExtractByContains map[string]string

	// Calls records every Complete invocation's message history.
	Calls [][]model.Message
}

func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{ExtractByContains: map[string]string{}}
}

// Reply queues a plain-text assistant turn.
func (s *ScriptedProvider) Reply(content string) *ScriptedProvider {
	s.completions = append(s.completions, &Completion{Content: content})
	s.errs = append(s.errs, nil)
	return s
}

// CallTool queues an assistant turn that invokes a single tool.
func (s *ScriptedProvider) CallTool(id, name, args string) *ScriptedProvider {
	s.completions = append(s.completions, &Completion{
		ToolCalls: []model.ToolCall{{ID: id, Name: name, Arguments: []byte(args)}},
	})
	s.errs = append(s.errs, nil)
	return s
}

// Fail queues an error turn.
func (s *ScriptedProvider) Fail(err error) *ScriptedProvider {
	s.completions = append(s.completions, nil)
	s.errs = append(s.errs, err)
	return s
}

func (s *ScriptedProvider) Complete(_ context.Context, msgs []model.Message, _ []ToolDef) (*Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]model.Message, len(msgs))
	copy(cp, msgs)
	s.Calls = append(s.Calls, cp)

	if s.next >= len(s.completions) {
		return nil, fmt.Errorf("scripted provider exhausted after %d turns", s.next)
	}
	c, err := s.completions[s.next], s.errs[s.next]
	s.next++
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ScriptedProvider) Extract(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub, reply := range s.ExtractByContains {
		if sub != "" && strings.Contains(prompt, sub) {
			return reply, nil
		}
	}
	return "", fmt.Errorf("no scripted extraction for prompt")
}
