package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/moative/billie/internal/model"
)

const personaPrompt = `You are Billie, the customer service assistant for ACME Utilities, a water utility.
You help customers with outage reports, outage status, bill balances, payments,
meter readings, and usage questions.

Guidelines:
- Be warm, concise, and plain-spoken. One question at a time.
- Use the available tools for any account data, outage filing, or verification.
  Never invent balances, readings, or reference numbers.
- Account-specific details require a verified customer. If the customer is not
  verified, ask for the phone number registered on their account and use the
  verification tool.
- Outage reporting and area outage status are available to everyone, verified
  or not. Never refuse to take an outage report.
- If a tool reports a problem, relay it honestly and offer an alternative,
  such as the billing line at 1-800-555-0199.`

// systemPrompt assembles the per-turn system message: persona, clock, and
// whatever identity context the dialogue has established.
func systemPrompt(st *model.DialogueState, now time.Time) string {
	var b strings.Builder
	b.WriteString(personaPrompt)
	fmt.Fprintf(&b, "\n\nThe current date and time is %s.", now.Format("Monday, January 2, 2006 at 3:04 PM"))

	if st.PhoneNumber != "" {
		fmt.Fprintf(&b, "\nThe customer is contacting us from %s.", st.PhoneNumber)
	}

	if st.VerifiedCustomer && st.Identity != nil {
		fmt.Fprintf(&b, "\nThe customer is verified: %s, account %s.",
			st.Identity.CustomerName, st.Identity.AccountID)
		if st.Identity.RegisteredAddress != "" {
			fmt.Fprintf(&b, " Service address: %s.", st.Identity.RegisteredAddress)
		}
		if snap := st.Identity.Snapshot; snap != nil {
			fmt.Fprintf(&b,
				"\nBilling snapshot: balance $%.2f, %d days left in the cycle, %.0f gallons used since the %s reading.",
				snap.Balance, snap.DaysLeft, snap.Used, snap.ReadDate)
		}
	} else {
		b.WriteString("\nThe customer is not verified yet.")
	}
	return b.String()
}
