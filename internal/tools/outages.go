package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/moative/billie/internal/model"
)

const addressExtractionPromptFmt = `Extract the full service address from the text below.
Return only the address on a single line. If no usable street address is
present, return exactly NONE.

Text:
%s`

const timeExtractionPromptFmt = `The current date and time is %s.
The text below may describe when a problem started, possibly in relative
terms like "an hour ago" or "since last night". Return the start time in
RFC3339 format on a single line. If the text gives no time, return exactly NOW.

Text:
%s`

func reportOutageTool(d Deps) *Tool {
	return &Tool{
		Name: "report_outage",
		Description: "Report a water outage or supply problem. Needs the service address " +
			"and a description of the issue; records the report and returns a reference number.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"description": {"type": "string", "description": "The customer's own words describing the problem, including any address and timing details"},
				"nature": {"type": "string", "description": "Short label for the problem, e.g. 'No water', 'Low pressure', 'Leak'"},
				"scale": {"type": "string", "enum": ["small", "medium", "large"], "description": "Estimated scale of the outage"}
			},
			"required": ["description"]
		}`),
		Run: func(ctx context.Context, st *model.DialogueState, raw json.RawMessage) (string, error) {
			var args struct {
				Description string `json:"description"`
				Nature      string `json:"nature"`
				Scale       string `json:"scale"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("%w: report_outage args: %v", model.ErrToolExecution, err)
			}
			if args.Nature == "" {
				args.Nature = "Water outage"
			}
			if args.Scale == "" {
				args.Scale = "medium"
			}

			addr, err := extractAddress(ctx, d, st, args.Description)
			if err != nil {
				return "", err
			}
			if addr == "" {
				return "I need the full service address to file this report. Could you share the street address, including the city and zip code?", nil
			}

			res, err := d.Validator.Validate(ctx, addr)
			if err != nil {
				return "", fmt.Errorf("%w: validate address: %v", model.ErrToolExecution, err)
			}
			if !res.Valid {
				return fmt.Sprintf("I couldn't verify %q as a service address. Could you give me the full street address with the zip code?", addr), nil
			}

			start, err := extractStartTime(ctx, d, args.Description)
			if err != nil {
				return "", err
			}

			out := &model.Outage{
				ReferenceNumber: "OUT-" + uuid.New().String(),
				Address:         res.Formatted,
				Nature:          args.Nature,
				Scale:           args.Scale,
				Status:          "Reported",
				StartTime:       start,
				Latitude:        res.Latitude,
				Longitude:       res.Longitude,
			}
			if st.Identity != nil {
				out.AccountID = st.Identity.AccountID
				out.Name = st.Identity.CustomerName
			}
			if err := d.Store.Outages().Create(ctx, out); err != nil {
				return "", fmt.Errorf("%w: save outage: %v", model.ErrToolExecution, err)
			}

			d.Log.Info().Str("reference", out.ReferenceNumber).Str("address", out.Address).
				Msg("outage reported")
			return fmt.Sprintf(
				"Outage report filed for %s. Reference number: %s. A crew will be dispatched, and service is typically restored within 3 hours.",
				out.Address, out.ReferenceNumber), nil
		},
	}
}

func checkOutageStatusTool(d Deps) *Tool {
	return &Tool{
		Name: "check_outage_status",
		Description: "Check the status of a reported outage, either by reference number or by " +
			"looking for active outages in the caller's area.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"reference_number": {"type": "string", "description": "An OUT- reference number from a prior report"},
				"zip_code": {"type": "string", "description": "Five-digit zip code to check for area outages"}
			}
		}`),
		Run: func(ctx context.Context, st *model.DialogueState, raw json.RawMessage) (string, error) {
			var args struct {
				ReferenceNumber string `json:"reference_number"`
				ZipCode         string `json:"zip_code"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("%w: check_outage_status args: %v", model.ErrToolExecution, err)
			}

			if ref := strings.TrimSpace(args.ReferenceNumber); ref != "" {
				out, err := d.Store.Outages().GetByReference(ctx, ref)
				if err != nil {
					if isNotFound(err) {
						return fmt.Sprintf("I couldn't find an outage with reference %s. Please double-check the number.", ref), nil
					}
					return "", fmt.Errorf("%w: lookup outage: %v", model.ErrToolExecution, err)
				}
				return fmt.Sprintf(
					"Outage %s at %s is currently %q. It was reported at %s and is expected to be restored within 3 hours of that time.",
					out.ReferenceNumber, out.Address, out.Status, out.StartTime.Format("Jan 2, 3:04 PM")), nil
			}

			zip := strings.TrimSpace(args.ZipCode)
			if zip == "" && st.Identity != nil {
				zip = zipFromAddress(st.Identity.RegisteredAddress)
			}
			if zip == "" {
				return "I can check your area for outages if you share your zip code.", nil
			}

			hits, err := d.Store.Outages().ActiveByZip(ctx, zip)
			if err != nil {
				return "", fmt.Errorf("%w: area outage lookup: %v", model.ErrToolExecution, err)
			}
			if len(hits) == 0 {
				return fmt.Sprintf("Good news: there are no active outages reported in %s right now.", zip), nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "There are %d active outage(s) in %s:\n", len(hits), zip)
			for _, o := range hits {
				fmt.Fprintf(&b, "- %s (%s), status %q, reported %s\n",
					o.Nature, o.Address, o.Status, o.StartTime.Format("Jan 2, 3:04 PM"))
			}
			b.WriteString("Service is typically restored within 3 hours of a report.")
			return b.String(), nil
		},
	}
}

func extractAddress(ctx context.Context, d Deps, st *model.DialogueState, description string) (string, error) {
	// Give the extractor the description plus recent user turns, since the
	// address often arrives a message or two before the report request.
	var recent []string
	for i := len(st.Messages) - 1; i >= 0 && len(recent) < 4; i-- {
		if st.Messages[i].Role == model.RoleUser {
			recent = append(recent, st.Messages[i].Content)
		}
	}
	text := description + "\n" + strings.Join(recent, "\n")

	reply, err := d.LLM.Extract(ctx, fmt.Sprintf(addressExtractionPromptFmt, text))
	if err != nil {
		return "", fmt.Errorf("%w: address extraction: %v", model.ErrToolExecution, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" || strings.EqualFold(reply, "NONE") {
		return "", nil
	}
	return reply, nil
}

func extractStartTime(ctx context.Context, d Deps, description string) (time.Time, error) {
	now := d.Now()
	reply, err := d.LLM.Extract(ctx, fmt.Sprintf(timeExtractionPromptFmt, now.Format(time.RFC3339), description))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time extraction: %v", model.ErrToolExecution, err)
	}
	reply = strings.TrimSpace(reply)
	if strings.EqualFold(reply, "NOW") || reply == "" {
		return now, nil
	}
	ts, err := time.Parse(time.RFC3339, reply)
	if err != nil {
		// A malformed extraction should not block the report.
		return now, nil
	}
	return ts, nil
}

func zipFromAddress(addr string) string {
	fields := strings.FieldsFunc(addr, func(r rune) bool {
		return r == ' ' || r == ','
	})
	for i := len(fields) - 1; i >= 0; i-- {
		f := fields[i]
		if len(f) == 5 && isDigits(f) {
			return f
		}
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
