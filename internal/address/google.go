package address

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/moative/billie/internal/model"
)

const defaultValidationURL = "https://addressvalidation.googleapis.com/v1:validateAddress"

// GoogleValidator calls the Google Address Validation API.
type GoogleValidator struct {
	http *resty.Client
	url  string
	key  string
}

func NewGoogleValidator(url, apiKey string) *GoogleValidator {
	if url == "" {
		url = defaultValidationURL
	}
	return &GoogleValidator{
		http: resty.New().SetTimeout(10 * time.Second).SetRetryCount(2),
		url:  url,
		key:  apiKey,
	}
}

type validateRequest struct {
	Address struct {
		AddressLines []string `json:"addressLines"`
	} `json:"address"`
}

type validateResponse struct {
	Result struct {
		Verdict struct {
			AddressComplete       bool   `json:"addressComplete"`
			ValidationGranularity string `json:"validationGranularity"`
		} `json:"verdict"`
		Address struct {
			FormattedAddress string `json:"formattedAddress"`
			PostalAddress    struct {
				PostalCode string `json:"postalCode"`
			} `json:"postalAddress"`
		} `json:"address"`
		Geocode struct {
			Location struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"location"`
		} `json:"geocode"`
	} `json:"result"`
}

func (v *GoogleValidator) Validate(ctx context.Context, addr string) (*Result, error) {
	var req validateRequest
	req.Address.AddressLines = []string{addr}

	var resp validateResponse
	r, err := v.http.R().
		SetContext(ctx).
		SetQueryParam("key", v.key).
		SetBody(&req).
		SetResult(&resp).
		Post(v.url)
	if err != nil {
		return nil, fmt.Errorf("%w: address validation call failed: %v", model.ErrUpstream, err)
	}
	if r.StatusCode() != 200 {
		return nil, fmt.Errorf("%w: address validation returned status %d", model.ErrUpstream, r.StatusCode())
	}

	res := resp.Result
	out := &Result{
		Formatted: res.Address.FormattedAddress,
		ZipCode:   res.Address.PostalAddress.PostalCode,
		Latitude:  res.Geocode.Location.Latitude,
		Longitude: res.Geocode.Location.Longitude,
		Valid:     res.Verdict.AddressComplete || res.Verdict.ValidationGranularity == "PREMISE",
	}
	if out.Formatted == "" {
		out.Formatted = addr
	}
	return out, nil
}
