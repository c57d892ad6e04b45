package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/captcha"
	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/router-for-me/CreditLedger/internal/credits"
	internalsettings "github.com/router-for-me/CreditLedger/internal/settings"
)

// publicCaptcha is the captcha part of the public config.
type publicCaptcha struct {
	Enabled bool   `json:"enabled"`
	SiteKey string `json:"siteKey"`
}

// publicConfigResponse is the response payload for public config.
type publicConfigResponse struct {
	SiteName             string                 `json:"siteName"`
	SignUpEnabled        bool                   `json:"signUpEnabled"`
	Captcha              publicCaptcha          `json:"captcha"`
	StripePublishableKey string                 `json:"stripePublishableKey"`
	Packages             []config.CreditPackage `json:"packages"`
	FreeMonthlyCredits   int64                  `json:"freeMonthlyCredits"`
}

// ConfigHandler serves the public front-end configuration.
type ConfigHandler struct {
	cfg     config.Config
	ledger  *credits.Ledger
	captcha *captcha.Verifier
}

// NewConfigHandler constructs a ConfigHandler.
func NewConfigHandler(cfg config.Config, ledger *credits.Ledger, verifier *captcha.Verifier) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, ledger: ledger, captcha: verifier}
}

// Get returns public configuration for the front UI.
func (h *ConfigHandler) Get(c *gin.Context) {
	siteName := internalsettings.DBConfigString(internalsettings.SiteNameKey)
	if siteName == "" {
		siteName = h.cfg.SiteName
	}
	resp := publicConfigResponse{
		SiteName:             siteName,
		SignUpEnabled:        internalsettings.DBConfigBool(internalsettings.SignUpEnabledKey, internalsettings.DefaultSignUpEnabled),
		StripePublishableKey: h.cfg.Stripe.PublishableKey,
		Packages:             h.ledger.Packages(),
		FreeMonthlyCredits:   h.ledger.FreeMonthlyCredits(),
	}
	if h.captcha.Enabled() {
		resp.Captcha = publicCaptcha{Enabled: true, SiteKey: h.cfg.Captcha.SiteKey}
	}
	c.JSON(http.StatusOK, resp)
}
