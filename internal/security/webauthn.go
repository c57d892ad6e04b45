package security

import (
	"net/url"
	"strings"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/router-for-me/CreditLedger/internal/settings"
)

// NewWebAuthn builds a relying party from the site URL, letting runtime
// settings override the name, origins and RP ID.
func NewWebAuthn(siteURL, siteName string) (*webauthn.WebAuthn, error) {
	rpName := strings.TrimSpace(siteName)
	if override := settings.DBConfigString(settings.WebAuthnRPNameKey); override != "" {
		rpName = override
	} else if override = settings.DBConfigString(settings.SiteNameKey); override != "" {
		rpName = override
	}
	if rpName == "" {
		rpName = "Credit Ledger"
	}

	origins := settings.DBConfigStrings(settings.WebAuthnOriginsKey)
	if len(origins) == 0 {
		if override := settings.DBConfigString(settings.WebAuthnOriginKey); override != "" {
			origins = []string{override}
		}
	}
	if len(origins) == 0 {
		if origin := siteOrigin(siteURL); origin != "" {
			origins = []string{origin}
		}
	}

	rpID := settings.DBConfigString(settings.WebAuthnRPIDKey)
	if rpID == "" {
		rpID = deriveRPIDFromOrigins(origins)
	}

	return webauthn.New(&webauthn.Config{
		RPID:          rpID,
		RPDisplayName: rpName,
		RPOrigins:     origins,
	})
}

// siteOrigin reduces a site URL to scheme://host[:port].
func siteOrigin(siteURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(siteURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

func deriveRPIDFromOrigins(origins []string) string {
	for _, origin := range origins {
		if host := originHost(origin); host != "" {
			return host
		}
	}
	return ""
}

func originHost(origin string) string {
	trimmed := strings.TrimSpace(origin)
	if trimmed == "" {
		return ""
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return strings.TrimSpace(parsed.Hostname())
}
