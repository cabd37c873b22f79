package legacy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/moative/billie/internal/config"
	"github.com/moative/billie/internal/model"
)

func newTestClient(alertsURL, usageURL string) *Client {
	cfg := &config.Config{
		AlertsURL: alertsURL, AlertsUser: "alerts-user", AlertsPassword: "alerts-pass",
		UsageURL: usageURL, UsageUser: "usage-user", UsagePassword: "usage-pass",
	}
	return NewClient(cfg, zerolog.Nop())
}

func TestResolveByPhone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "<contactValue>5551234567</contactValue>") {
			t.Errorf("envelope missing contact value: %s", body)
		}
		if got := r.Header.Get("SOAPAction"); got != "http://tempuri.org/GetAccountByContact" {
			t.Errorf("wrong SOAPAction: %s", got)
		}
		_, _ = io.WriteString(w, `<?xml version="1.0"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <GetAccountByContactResponse xmlns="http://tempuri.org/">
      <GetAccountByContactResult>
        <Account Id="AC-10042" Name="Pat Sample"/>
      </GetAccountByContactResult>
    </GetAccountByContactResponse>
  </soap:Body>
</soap:Envelope>`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)
	id, err := c.ResolveByPhone(context.Background(), "5551234567")
	if err != nil {
		t.Fatalf("ResolveByPhone: %v", err)
	}
	if id != "AC-10042" {
		t.Fatalf("want AC-10042, got %s", id)
	}
}

func TestResolveByPhone_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body><GetAccountByContactResponse/></soap:Body>
</soap:Envelope>`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)
	if _, err := c.ResolveByPhone(context.Background(), "5550000000"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUsageSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <GetAccountResponse xmlns="http://tempuri.org/">
      <GetAccountResult>
        <Account Name="Pat Sample" CurrentBalance="142.75" DaysLeft="9" Used="5240" ReadDate="2025-07-01" ChargeAmount="65.50"/>
      </GetAccountResult>
    </GetAccountResponse>
  </soap:Body>
</soap:Envelope>`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)
	snap, err := c.UsageSnapshot(context.Background(), "AC-10042")
	if err != nil {
		t.Fatalf("UsageSnapshot: %v", err)
	}
	if snap.Name != "Pat Sample" || snap.Balance != 142.75 || snap.DaysLeft != 9 ||
		snap.Used != 5240 || snap.ReadDate != "2025-07-01" || snap.ChargeAmount != 65.50 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestUsageSnapshot_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)
	if _, err := c.UsageSnapshot(context.Background(), "AC-1"); !errors.Is(err, model.ErrUpstream) {
		t.Fatalf("want ErrUpstream, got %v", err)
	}
}
