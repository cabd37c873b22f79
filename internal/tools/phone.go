package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/moative/billie/internal/model"
)

var nonDigitRe = regexp.MustCompile(`\D`)

// normalizePhone strips formatting and returns the bare 10-digit number, or
// "" when the input is not a valid US phone number.
func normalizePhone(raw string) string {
	digits := nonDigitRe.ReplaceAllString(raw, "")
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return ""
	}
	return digits
}

func verifyPhoneNumberTool(d Deps) *Tool {
	return &Tool{
		Name: "verify_phone_number",
		Description: "Verify a customer by the phone number registered on their account. " +
			"Call this when the customer provides a phone number for identification.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"phone_number": {"type": "string", "description": "The phone number the customer provided"}
			},
			"required": ["phone_number"]
		}`),
		Run: func(ctx context.Context, st *model.DialogueState, raw json.RawMessage) (string, error) {
			var args struct {
				PhoneNumber string `json:"phone_number"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("%w: verify_phone_number args: %v", model.ErrToolExecution, err)
			}

			phone := normalizePhone(args.PhoneNumber)
			if phone == "" {
				return "That doesn't look like a valid 10-digit phone number. Could you repeat it?", nil
			}

			cust, err := d.Store.Customers().GetByPhone(ctx, phone)
			if err != nil {
				if isNotFound(err) {
					return fmt.Sprintf("I couldn't find an account registered under %s. You can still report outages or check area status without verification.", phone), nil
				}
				return "", fmt.Errorf("%w: customer lookup: %v", model.ErrToolExecution, err)
			}

			if err := d.Gate.Verify(ctx, phone, cust.AccountID, d.SessionID, "tool_verification"); err != nil {
				return "", fmt.Errorf("%w: record verification: %v", model.ErrToolExecution, err)
			}

			st.VerifiedCustomer = true
			st.PhoneNumber = phone
			st.Identity = &model.Identity{
				Source:            model.IdentityLocal,
				AccountID:         cust.AccountID,
				CustomerName:      cust.Name,
				RegisteredAddress: cust.Address,
			}
			return fmt.Sprintf("Thanks %s, your account is verified.", cust.Name), nil
		},
	}
}

func checkPhoneVerificationStatusTool(d Deps) *Tool {
	return &Tool{
		Name:        "check_phone_verification_status",
		Description: "Check whether the customer's phone number has been verified in this session.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"phone_number": {"type": "string", "description": "Phone number to check; defaults to the caller's number"}
			}
		}`),
		Run: func(ctx context.Context, st *model.DialogueState, raw json.RawMessage) (string, error) {
			var args struct {
				PhoneNumber string `json:"phone_number"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("%w: check_phone_verification_status args: %v", model.ErrToolExecution, err)
			}

			phone := normalizePhone(args.PhoneNumber)
			if phone == "" {
				phone = st.PhoneNumber
			}
			if phone == "" {
				return "I don't have a phone number on this conversation yet.", nil
			}

			status, err := d.Gate.CheckStatus(ctx, phone)
			if err != nil {
				return "", fmt.Errorf("%w: verification status: %v", model.ErrToolExecution, err)
			}
			if status.Verified {
				return fmt.Sprintf("The number %s is verified against account %s.", phone, status.AccountID), nil
			}
			return fmt.Sprintf("The number %s is not verified yet.", phone), nil
		},
	}
}
