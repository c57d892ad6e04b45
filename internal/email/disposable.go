package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Disposable-address lookup endpoints.
const (
	debounceEndpoint  = "https://disposable.debounce.io/"
	mailcheckEndpoint = "https://api.mailcheck.ai/email/"
)

// DisposableChecker flags throwaway email addresses at sign-up.
type DisposableChecker struct {
	enabled      bool
	debounceURL  string
	mailcheckURL string
	client       *http.Client
}

// NewDisposableChecker returns a checker that only queries in production.
func NewDisposableChecker(production bool) *DisposableChecker {
	return &DisposableChecker{
		enabled:      production,
		debounceURL:  debounceEndpoint,
		mailcheckURL: mailcheckEndpoint,
		client:       &http.Client{Timeout: 5 * time.Second},
	}
}

// Sign-up address check errors.
var (
	ErrDisposableAddress = errors.New("email: disposable address")
	ErrLookupUnavailable = errors.New("email: address lookup unavailable")
)

// CheckSignUp asks debounce.io and then mailcheck.ai whether the address is
// disposable. The first lookup that answers decides.
func (d *DisposableChecker) CheckSignUp(ctx context.Context, address string) error {
	if d == nil || !d.enabled {
		return nil
	}
	address = strings.TrimSpace(address)
	lookups := []func(context.Context, string) (bool, error){d.queryDebounce, d.queryMailcheck}
	for _, lookup := range lookups {
		disposable, errLookup := lookup(ctx, address)
		if errLookup != nil {
			log.WithError(errLookup).Warn("email: disposable lookup failed")
			continue
		}
		if disposable {
			return ErrDisposableAddress
		}
		return nil
	}
	return ErrLookupUnavailable
}

func (d *DisposableChecker) queryDebounce(ctx context.Context, address string) (bool, error) {
	var parsed struct {
		Disposable string `json:"disposable"`
	}
	if errGet := d.getJSON(ctx, d.debounceURL+"?email="+url.QueryEscape(address), &parsed); errGet != nil {
		return false, errGet
	}
	return strings.EqualFold(parsed.Disposable, "true"), nil
}

func (d *DisposableChecker) queryMailcheck(ctx context.Context, address string) (bool, error) {
	var parsed struct {
		Disposable bool `json:"disposable"`
	}
	if errGet := d.getJSON(ctx, d.mailcheckURL+url.PathEscape(address), &parsed); errGet != nil {
		return false, errGet
	}
	return parsed.Disposable, nil
}

func (d *DisposableChecker) getJSON(ctx context.Context, target string, out any) error {
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if errReq != nil {
		return errReq
	}
	req.Header.Set("Accept", "application/json")
	resp, errDo := d.client.Do(req)
	if errDo != nil {
		return errDo
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(out)
}
