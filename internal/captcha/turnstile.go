// Package captcha verifies Cloudflare Turnstile tokens.
package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/router-for-me/CreditLedger/internal/settings"
	log "github.com/sirupsen/logrus"
)

// Verifier checks tokens against the Turnstile siteverify endpoint.
type Verifier struct {
	enabled   bool
	secret    string
	verifyURL string
	client    *http.Client
}

// NewVerifier builds a verifier from configuration.
func NewVerifier(cfg config.CaptchaConfig) *Verifier {
	return &Verifier{
		enabled:   cfg.Enabled,
		secret:    strings.TrimSpace(cfg.SecretKey),
		verifyURL: strings.TrimSpace(cfg.VerifyURL),
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether tokens are checked. The CAPTCHA_ENABLED setting
// overrides the configured value.
func (v *Verifier) Enabled() bool {
	if v == nil {
		return false
	}
	return settings.DBConfigBool(settings.CaptchaEnabledKey, v.enabled)
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify reports whether token is valid. A disabled verifier accepts all tokens.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	if !v.Enabled() {
		return true, nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}
	payload := map[string]string{"secret": v.secret, "response": token}
	if remoteIP != "" {
		payload["remoteip"] = remoteIP
	}
	body, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return false, errMarshal
	}
	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader(body))
	if errReq != nil {
		return false, errReq
	}
	req.Header.Set("Content-Type", "application/json")

	resp, errDo := v.client.Do(req)
	if errDo != nil {
		return false, fmt.Errorf("captcha: siteverify: %w", errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Debug("captcha: close response body")
		}
	}()
	raw, errRead := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if errRead != nil {
		return false, errRead
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return false, fmt.Errorf("captcha: siteverify status %d", resp.StatusCode)
	}
	var parsed siteverifyResponse
	if errUnmarshal := json.Unmarshal(raw, &parsed); errUnmarshal != nil {
		return false, fmt.Errorf("captcha: decode siteverify: %w", errUnmarshal)
	}
	if !parsed.Success {
		log.WithField("codes", parsed.ErrorCodes).Debug("captcha: token rejected")
	}
	return parsed.Success, nil
}
