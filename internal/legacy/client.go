// Package legacy integrates with the utility's legacy SOAP billing services.
// Two endpoints matter: the alerts service resolves a contact phone number to
// an account id, and the usage service returns the current billing snapshot
// for an account.
package legacy

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/moative/billie/internal/config"
	"github.com/moative/billie/internal/model"
)

// Client calls the legacy SOAP services.
type Client struct {
	http *resty.Client
	log  zerolog.Logger

	alertsURL  string
	alertsUser string
	alertsPass string

	usageURL  string
	usageUser string
	usagePass string
}

func NewClient(cfg *config.Config, log zerolog.Logger) *Client {
	rc := resty.New().
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "text/xml; charset=utf-8")

	return &Client{
		http:       rc,
		log:        log.With().Str("component", "legacy").Logger(),
		alertsURL:  cfg.AlertsURL,
		alertsUser: cfg.AlertsUser,
		alertsPass: cfg.AlertsPassword,
		usageURL:   cfg.UsageURL,
		usageUser:  cfg.UsageUser,
		usagePass:  cfg.UsagePassword,
	}
}

// Configured reports whether the legacy endpoints are set. When they are not,
// identity resolution skips straight to the local directory.
func (c *Client) Configured() bool {
	return c.alertsURL != "" && c.usageURL != ""
}

// ResolveByPhone looks up the account id registered against a contact phone
// number. Returns model.ErrNotFound when the legacy system has no match.
func (c *Client) ResolveByPhone(ctx context.Context, phone string) (string, error) {
	envelope := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <GetAccountByContact xmlns="http://tempuri.org/">
      <userName>%s</userName>
      <password>%s</password>
      <contactValue>%s</contactValue>
    </GetAccountByContact>
  </soap:Body>
</soap:Envelope>`, xmlEscape(c.alertsUser), xmlEscape(c.alertsPass), xmlEscape(phone))

	body, err := c.post(ctx, c.alertsURL, "http://tempuri.org/GetAccountByContact", envelope)
	if err != nil {
		return "", err
	}

	attrs, err := accountAttrs(body)
	if err != nil {
		return "", fmt.Errorf("%w: parse alerts response: %v", model.ErrUpstream, err)
	}
	id := attrs["Id"]
	if id == "" {
		return "", fmt.Errorf("%w: no legacy account for phone", model.ErrNotFound)
	}
	c.log.Debug().Str("account_id", id).Msg("resolved legacy account")
	return id, nil
}

// UsageSnapshot fetches the billing snapshot for a legacy account.
func (c *Client) UsageSnapshot(ctx context.Context, accountID string) (*model.UsageSnapshot, error) {
	envelope := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <GetAccount xmlns="http://tempuri.org/">
      <userName>%s</userName>
      <password>%s</password>
      <accountId>%s</accountId>
    </GetAccount>
  </soap:Body>
</soap:Envelope>`, xmlEscape(c.usageUser), xmlEscape(c.usagePass), xmlEscape(accountID))

	body, err := c.post(ctx, c.usageURL, "http://tempuri.org/GetAccount", envelope)
	if err != nil {
		return nil, err
	}

	attrs, err := accountAttrs(body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse usage response: %v", model.ErrUpstream, err)
	}
	if len(attrs) == 0 {
		return nil, fmt.Errorf("%w: legacy account %s not found", model.ErrNotFound, accountID)
	}

	snap := &model.UsageSnapshot{
		Name:     attrs["Name"],
		ReadDate: attrs["ReadDate"],
	}
	snap.Balance = parseFloat(attrs["CurrentBalance"])
	snap.DaysLeft = int(parseFloat(attrs["DaysLeft"]))
	snap.Used = parseFloat(attrs["Used"])
	snap.ChargeAmount = parseFloat(attrs["ChargeAmount"])
	return snap, nil
}

func (c *Client) post(ctx context.Context, url, soapAction, envelope string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("SOAPAction", soapAction).
		SetBody(envelope).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("%w: legacy call failed: %v", model.ErrUpstream, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("%w: legacy returned status %d", model.ErrUpstream, resp.StatusCode())
	}
	return resp.Body(), nil
}

// accountAttrs walks the response XML and returns the attributes of the first
// Account element, ignoring namespaces. Empty map means no Account element.
func accountAttrs(body []byte) (map[string]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return map[string]string{}, nil
			}
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Account" {
			continue
		}
		attrs := make(map[string]string, len(se.Attr))
		for _, a := range se.Attr {
			attrs[a.Name.Local] = a.Value
		}
		return attrs, nil
	}
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
