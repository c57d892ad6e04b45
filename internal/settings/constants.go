package settings

// DB config keys and defaults for runtime settings.
const (
	// SiteNameKey overrides the site name shown in emails and the public config.
	SiteNameKey = "SITE_NAME"
	// FreeMonthlyCreditsKey overrides the free monthly credit grant.
	FreeMonthlyCreditsKey = "FREE_MONTHLY_CREDITS"
	// CaptchaEnabledKey toggles Turnstile checks at runtime.
	CaptchaEnabledKey = "CAPTCHA_ENABLED"
	// SignUpEnabledKey toggles public sign-up.
	SignUpEnabledKey = "SIGN_UP_ENABLED"
	// WebAuthnRPNameKey overrides the passkey relying party display name.
	WebAuthnRPNameKey = "WEB_AUTHN_RP_NAME"
	// WebAuthnOriginsKey lists allowed passkey origins.
	WebAuthnOriginsKey = "WEB_AUTHN_ORIGINS"
	// WebAuthnOriginKey is the single-origin form of WebAuthnOriginsKey.
	WebAuthnOriginKey = "WEB_AUTHN_ORIGIN"
	// WebAuthnRPIDKey overrides the passkey relying party ID.
	WebAuthnRPIDKey = "WEB_AUTHN_RPID"
	// TokenRetentionDaysKey sets how long expired email and reset tokens are kept.
	TokenRetentionDaysKey = "TOKEN_RETENTION_DAYS"
	// DefaultTokenRetentionDays applies when TokenRetentionDaysKey is unset.
	DefaultTokenRetentionDays = 7
	// DefaultSignUpEnabled keeps sign-up open unless disabled by an admin.
	DefaultSignUpEnabled = true
)
