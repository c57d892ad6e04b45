package front

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/CreditLedger/internal/captcha"
	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/router-for-me/CreditLedger/internal/credits"
	"github.com/router-for-me/CreditLedger/internal/email"
	apphttp "github.com/router-for-me/CreditLedger/internal/http"
	"github.com/router-for-me/CreditLedger/internal/http/api/front/handlers"
	"github.com/router-for-me/CreditLedger/internal/payments"
	"github.com/router-for-me/CreditLedger/internal/ratelimit"
	"github.com/router-for-me/CreditLedger/internal/session"
	"gorm.io/gorm"
)

// Lifetimes of short-lived sign-in and enrolment state.
const (
	pendingMFATTL       = 10 * time.Minute
	passkeyCeremonyTTL  = 5 * time.Minute
	totpEnrolmentSecret = 10 * time.Minute
)

// Deps carries everything the front routes need.
type Deps struct {
	DB         *gorm.DB
	Redis      *redis.Client
	Config     config.Config
	Ledger     *credits.Ledger
	Sessions   *session.Store
	Limiter    *ratelimit.Limiter
	Mailer     *email.Mailer
	Disposable *email.DisposableChecker
	Captcha    *captcha.Verifier
	Payments   *payments.Service
}

// CookieConfig returns the session cookie settings derived from cfg.
func CookieConfig(cfg config.Config) apphttp.CookieConfig {
	return apphttp.CookieConfig{
		Name:   cfg.Session.CookieName,
		Secret: cfg.JWT.Secret,
		Secure: cfg.Server.CookieSecure,
	}
}

// RegisterFrontRoutes registers public and authenticated front-end routes.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil || deps.Sessions == nil {
		return
	}
	cookie := CookieConfig(deps.Config)
	issuer := handlers.SessionIssuer{Sessions: deps.Sessions, Cookie: cookie}
	limit := deps.Limiter.Middleware

	front := r.Group("/v0/front")

	configHandler := handlers.NewConfigHandler(deps.Config, deps.Ledger, deps.Captcha)
	front.GET("/config", configHandler.Get)

	authHandler := handlers.NewAuthHandler(deps.DB, handlers.AuthOptions{
		Config:       deps.Config,
		Issuer:       issuer,
		Mailer:       deps.Mailer,
		Disposable:   deps.Disposable,
		Captcha:      deps.Captcha,
		PendingMFA:   session.NewCeremonyStore(deps.Redis, "mfa:pending", pendingMFATTL),
		PasskeyLogin: session.NewCeremonyStore(deps.Redis, "webauthn:login", passkeyCeremonyTTL),
	})
	front.POST("/auth/sign-up", limit(ratelimit.SignUp), authHandler.SignUp)
	front.POST("/auth/sign-in", limit(ratelimit.SignIn), authHandler.SignIn)
	front.POST("/auth/sign-in/totp", limit(ratelimit.SignIn), authHandler.SignInTOTP)
	front.POST("/auth/sign-in/passkey/options", limit(ratelimit.SignIn), authHandler.SignInPasskeyOptions)
	front.POST("/auth/sign-in/passkey/verify", limit(ratelimit.SignIn), authHandler.SignInPasskeyVerify)
	front.POST("/auth/forgot-password", limit(ratelimit.ForgotPassword), authHandler.ForgotPassword)
	front.POST("/auth/reset-password", limit(ratelimit.ResetPassword), authHandler.ResetPassword)
	front.POST("/auth/verify-email", limit(ratelimit.Email), authHandler.VerifyEmail)

	authed := front.Group("")
	authed.Use(apphttp.SessionAuthMiddleware(deps.Sessions, cookie))
	verified := authed.Group("")
	verified.Use(apphttp.RequireVerifiedEmail())

	authed.POST("/auth/sign-out", limit(ratelimit.SignOut), authHandler.SignOut)
	authed.POST("/auth/resend-verification", limit(ratelimit.Email), authHandler.ResendVerification)

	profileHandler := handlers.NewProfileHandler(deps.DB, deps.Sessions)
	authed.GET("/profile", profileHandler.Get)
	verified.PUT("/profile", limit(ratelimit.Settings), profileHandler.Update)
	authed.PUT("/profile/password", limit(ratelimit.Settings), profileHandler.ChangePassword)

	mfaHandler := handlers.NewMFAHandler(deps.DB, deps.Config, deps.Sessions,
		session.NewCeremonyStore(deps.Redis, "mfa:totp", totpEnrolmentSecret),
		session.NewCeremonyStore(deps.Redis, "webauthn:register", passkeyCeremonyTTL),
	)
	authed.GET("/mfa/status", mfaHandler.Status)
	authed.POST("/mfa/totp/prepare", limit(ratelimit.Settings), mfaHandler.PrepareTOTP)
	authed.POST("/mfa/totp/confirm", limit(ratelimit.Settings), mfaHandler.ConfirmTOTP)
	authed.POST("/mfa/totp/disable", limit(ratelimit.Settings), mfaHandler.DisableTOTP)
	authed.POST("/mfa/passkey/options", limit(ratelimit.Settings), mfaHandler.BeginPasskeyRegistration)
	authed.POST("/mfa/passkey/verify", limit(ratelimit.Settings), mfaHandler.FinishPasskeyRegistration)
	authed.POST("/mfa/passkey/disable", limit(ratelimit.Settings), mfaHandler.DisablePasskey)

	creditsHandler := handlers.NewCreditsHandler(deps.Ledger, deps.Sessions)
	authed.GET("/credits", creditsHandler.Balance)
	authed.GET("/credits/check", creditsHandler.Check)
	authed.POST("/credits/use", limit(ratelimit.Purchase), creditsHandler.Use)
	verified.GET("/credits/transactions", creditsHandler.Transactions)

	billingHandler := handlers.NewBillingHandler(deps.Ledger, deps.Payments, deps.Sessions)
	authed.GET("/billing/packages", billingHandler.Packages)
	verified.POST("/billing/payment-intents", limit(ratelimit.Purchase), billingHandler.CreatePaymentIntent)
	verified.POST("/billing/confirm", limit(ratelimit.Purchase), billingHandler.ConfirmPayment)

	itemsHandler := handlers.NewItemsHandler(deps.Ledger, deps.Sessions)
	authed.GET("/items", itemsHandler.List)
	verified.POST("/items/purchase", limit(ratelimit.Purchase), itemsHandler.Purchase)

	sessionsHandler := handlers.NewSessionsHandler(deps.Sessions)
	authed.GET("/sessions", sessionsHandler.List)
	authed.DELETE("/sessions/:id", limit(ratelimit.DeleteSession), sessionsHandler.Delete)
	authed.DELETE("/sessions", limit(ratelimit.DeleteSession), sessionsHandler.DeleteOthers)
}
