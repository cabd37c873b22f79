package model

import (
	"encoding/json"
	"time"
)

// Role tags a message in a conversation thread.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one role-tagged entry in a thread's history.
// ToolCalls is set on assistant messages that request tool execution;
// ToolCallID is set on tool-result messages.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// IdentitySource discriminates how a thread's identity was resolved.
type IdentitySource string

const (
	// IdentityLocal means the customer record lives in the local directory;
	// financial and usage data is fetched live per tool call.
	IdentityLocal IdentitySource = "local"
	// IdentityLegacy means identity came from the legacy lookup; financial
	// fields were snapshotted at verification time and are never refreshed.
	IdentityLegacy IdentitySource = "legacy"
)

// UsageSnapshot carries the account data returned by the legacy lookup.
type UsageSnapshot struct {
	Name         string  `json:"name"`
	Balance      float64 `json:"balance"`
	DaysLeft     int     `json:"daysLeft"`
	Used         float64 `json:"used"`
	ReadDate     string  `json:"readDate"`
	ChargeAmount float64 `json:"chargeAmount"`
}

// Identity holds the resolved customer identity for a thread. Exactly one of
// the two source-specific field groups is populated: RegisteredAddress for
// local records, Snapshot for legacy records.
type Identity struct {
	Source            IdentitySource `json:"source"`
	AccountID         string         `json:"accountId"`
	CustomerName      string         `json:"customerName"`
	RegisteredAddress string         `json:"registeredAddress,omitempty"`
	Snapshot          *UsageSnapshot `json:"snapshot,omitempty"`
}

// DialogueState is the durable unit of conversation memory for one thread.
type DialogueState struct {
	Messages         []Message `json:"messages"`
	VerifiedCustomer bool      `json:"verifiedCustomer"`
	PhoneNumber      string    `json:"phoneNumber,omitempty"`
	Identity         *Identity `json:"identity,omitempty"`
}

// NewDialogueState returns an empty state for a fresh thread.
func NewDialogueState() *DialogueState {
	return &DialogueState{Messages: []Message{}}
}

// Append adds a message to the history.
func (s *DialogueState) Append(m Message) { s.Messages = append(s.Messages, m) }

// LastAssistant returns the content of the most recent assistant message.
func (s *DialogueState) LastAssistant() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}

// Checkpoint is a persisted snapshot of a thread's dialogue state plus
// monotonic sequence metadata.
type Checkpoint struct {
	ThreadID  string         `json:"threadId"`
	State     *DialogueState `json:"state"`
	Version   int64          `json:"version"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// TTLRecord tracks the last message time for a thread; read by the reaper.
type TTLRecord struct {
	ThreadID        string    `json:"threadId"`
	LastMessageTime time.Time `json:"lastMessageTime"`
}

// VerificationRecord is the single currently-trusted phone number for the
// deployment. At most one active record exists at any time.
type VerificationRecord struct {
	PhoneNumber        string    `json:"phoneNumber"`
	AccountID          string    `json:"accountId"`
	SessionID          string    `json:"sessionId,omitempty"`
	VerifiedAt         time.Time `json:"verifiedAt"`
	VerificationMethod string    `json:"verificationMethod"`
	IsActive           bool      `json:"isActive"`
}

// Customer is a row in the local account directory.
type Customer struct {
	AccountID   string    `json:"accountId"`
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	ZipCode     string    `json:"zipCode"`
	Phone       string    `json:"phone"`
	AccountType string    `json:"accountType"`
	Language    string    `json:"language"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BillingInfo is the billing summary for an account.
type BillingInfo struct {
	AccountID          string     `json:"accountId"`
	CurrentBalance     float64    `json:"currentBalance"`
	RawBalance         float64    `json:"rawBalance"`
	UnpaidDebtRecovery float64    `json:"unpaidDebtRecovery"`
	DaysLeft           int        `json:"daysLeft"`
	LastPaymentDate    *time.Time `json:"lastPaymentDate,omitempty"`
	LastPaymentAmount  *float64   `json:"lastPaymentAmount,omitempty"`
}

// MeterReading is the latest reading for an account's meter.
type MeterReading struct {
	AccountID    string    `json:"accountId"`
	MeterNumber  string    `json:"meterNumber"`
	ReadingValue float64   `json:"readingValue"`
	ReadDate     time.Time `json:"readDate"`
	Usage        float64   `json:"usage"`
	ChargeAmount float64   `json:"chargeAmount"`
}

// Outage is a reported service outage.
type Outage struct {
	ReferenceNumber string    `json:"referenceNumber"`
	AccountID       string    `json:"accountId,omitempty"`
	Name            string    `json:"name,omitempty"`
	Address         string    `json:"address"`
	Nature          string    `json:"nature"`
	Scale           string    `json:"scale"`
	Status          string    `json:"status"`
	StartTime       time.Time `json:"startTime"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	CreatedAt       time.Time `json:"createdAt"`
}
