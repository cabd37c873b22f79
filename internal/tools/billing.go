package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/moative/billie/internal/model"
)

const needVerificationReply = "I'll need to verify your account first. Could you confirm the phone number registered on your account?"

func isNotFound(err error) bool { return errors.Is(err, model.ErrNotFound) }

func getBillBalanceTool(d Deps) *Tool {
	return &Tool{
		Name:        "get_bill_balance",
		Description: "Get the current bill balance and days left in the billing cycle for the verified customer.",
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		Run: func(ctx context.Context, st *model.DialogueState, _ json.RawMessage) (string, error) {
			if st.Identity == nil || !st.VerifiedCustomer {
				return needVerificationReply, nil
			}

			switch st.Identity.Source {
			case model.IdentityLegacy:
				snap := st.Identity.Snapshot
				if snap == nil {
					return needVerificationReply, nil
				}
				return fmt.Sprintf("%s, your current balance is $%.2f with %d days left in this billing cycle.",
					snap.Name, snap.Balance, snap.DaysLeft), nil
			case model.IdentityLocal:
				b, err := d.Store.Customers().BillingByAccount(ctx, st.Identity.AccountID)
				if err != nil {
					if isNotFound(err) {
						return "I couldn't find billing details for your account. Our billing team can help at 1-800-555-0199.", nil
					}
					return "", fmt.Errorf("%w: billing lookup: %v", model.ErrToolExecution, err)
				}
				return fmt.Sprintf("%s, your current balance is $%.2f with %d days left in this billing cycle.",
					st.Identity.CustomerName, b.CurrentBalance, b.DaysLeft), nil
			default:
				return needVerificationReply, nil
			}
		},
	}
}

func getPaymentLinkTool(d Deps) *Tool {
	return &Tool{
		Name:        "get_payment_link",
		Description: "Get a secure payment link for the verified customer's outstanding balance.",
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		Run: func(ctx context.Context, st *model.DialogueState, _ json.RawMessage) (string, error) {
			if st.Identity == nil || !st.VerifiedCustomer {
				return needVerificationReply, nil
			}

			balance, err := currentBalance(ctx, d, st)
			if err != nil {
				return "", err
			}
			if balance <= 0 {
				return "Your balance is fully paid. There's nothing due right now.", nil
			}
			link := fmt.Sprintf("%s/%s?amount=%.2f", PaymentBaseURL, st.Identity.AccountID, balance)
			return fmt.Sprintf("You can pay your balance of $%.2f here: %s", balance, link), nil
		},
	}
}

func getMeterReadingTool(d Deps) *Tool {
	return &Tool{
		Name:        "get_meter_reading",
		Description: "Get the most recent meter reading, usage, and charge for the verified customer.",
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		Run: func(ctx context.Context, st *model.DialogueState, _ json.RawMessage) (string, error) {
			active, err := d.Gate.Active(ctx)
			if err != nil {
				if isNotFound(err) {
					return needVerificationReply, nil
				}
				return "", fmt.Errorf("%w: verification lookup: %v", model.ErrToolExecution, err)
			}

			cust, err := d.Store.Customers().GetByAccountID(ctx, active.AccountID)
			if err != nil {
				if isNotFound(err) {
					return "I couldn't find your account record. Our billing team can help at 1-800-555-0199.", nil
				}
				return "", fmt.Errorf("%w: customer lookup: %v", model.ErrToolExecution, err)
			}

			reading, err := d.Store.Customers().LatestReading(ctx, cust.AccountID)
			if err != nil {
				if isNotFound(err) {
					return "No meter readings are on file for your account yet.", nil
				}
				return "", fmt.Errorf("%w: reading lookup: %v", model.ErrToolExecution, err)
			}

			charge := reading.Usage * WaterRatePerGallon
			return fmt.Sprintf(
				"Your latest meter reading is %.0f (taken %s). Usage since the previous reading: %.0f gallons, which comes to $%.2f at the current rate.",
				reading.ReadingValue, reading.ReadDate.Format("Jan 2, 2006"), reading.Usage, charge), nil
		},
	}
}

func analyzeUsagePatternsTool(d Deps) *Tool {
	return &Tool{
		Name:        "analyze_usage_patterns",
		Description: "Summarize the verified customer's recent water usage and what it means for the current bill.",
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		Run: func(ctx context.Context, st *model.DialogueState, _ json.RawMessage) (string, error) {
			if st.Identity == nil || !st.VerifiedCustomer {
				return needVerificationReply, nil
			}

			if st.Identity.Source == model.IdentityLegacy && st.Identity.Snapshot != nil {
				snap := st.Identity.Snapshot
				perDay := 0.0
				if days := 30 - snap.DaysLeft; days > 0 {
					perDay = snap.Used / float64(days)
				}
				return fmt.Sprintf(
					"Since your last reading on %s you've used %.0f gallons (about %.0f gallons per day), for a usage charge of $%.2f so far. %d days remain in this cycle.",
					snap.ReadDate, snap.Used, perDay, snap.ChargeAmount, snap.DaysLeft), nil
			}

			reading, err := d.Store.Customers().LatestReading(ctx, st.Identity.AccountID)
			if err != nil {
				if isNotFound(err) {
					return "There isn't enough usage history on your account to analyze yet.", nil
				}
				return "", fmt.Errorf("%w: reading lookup: %v", model.ErrToolExecution, err)
			}
			charge := reading.Usage * WaterRatePerGallon
			return fmt.Sprintf(
				"Your most recent cycle used %.0f gallons, a usage charge of about $%.2f. That's within the typical range for a residential account.",
				reading.Usage, charge), nil
		},
	}
}

func enrollPaperlessBillingTool(d Deps) *Tool {
	return &Tool{
		Name:        "enroll_paperless_billing",
		Description: "Enroll the verified customer in paperless billing.",
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		Run: func(_ context.Context, _ *model.DialogueState, _ json.RawMessage) (string, error) {
			// The enrollment backend is not yet connected; surface a graceful
			// failure rather than pretending it worked.
			return "I wasn't able to enroll you in paperless billing just now - that system is temporarily unavailable. You can enroll any time at acmeutilities.com/paperless or I can note it for a follow-up call.",
				fmt.Errorf("%w: paperless enrollment backend unavailable", model.ErrToolExecution)
		},
	}
}

func currentBalance(ctx context.Context, d Deps, st *model.DialogueState) (float64, error) {
	if st.Identity.Source == model.IdentityLegacy {
		if st.Identity.Snapshot == nil {
			return 0, fmt.Errorf("%w: legacy identity without snapshot", model.ErrToolExecution)
		}
		return st.Identity.Snapshot.Balance, nil
	}
	b, err := d.Store.Customers().BillingByAccount(ctx, st.Identity.AccountID)
	if err != nil {
		return 0, fmt.Errorf("%w: billing lookup: %v", model.ErrToolExecution, err)
	}
	return b.CurrentBalance, nil
}
