package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/router-for-me/CreditLedger/internal/captcha"
	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/router-for-me/CreditLedger/internal/email"
	apphttp "github.com/router-for-me/CreditLedger/internal/http"
	"github.com/router-for-me/CreditLedger/internal/models"
	"github.com/router-for-me/CreditLedger/internal/security"
	"github.com/router-for-me/CreditLedger/internal/session"
	internalsettings "github.com/router-for-me/CreditLedger/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Token lifetimes for account emails.
const (
	verificationTokenTTL  = 24 * time.Hour
	passwordResetTokenTTL = 24 * time.Hour
	resetTokenLength      = 32
)

// AuthHandler handles sign-up, sign-in and account recovery endpoints.
type AuthHandler struct {
	db           *gorm.DB
	cfg          config.Config
	issuer       SessionIssuer
	mailer       *email.Mailer
	disposable   *email.DisposableChecker
	captcha      *captcha.Verifier
	pendingMFA   *session.CeremonyStore
	passkeyLogin *session.CeremonyStore
}

// AuthOptions carries the collaborators of AuthHandler.
type AuthOptions struct {
	Config     config.Config
	Issuer     SessionIssuer
	Mailer     *email.Mailer
	Disposable *email.DisposableChecker
	Captcha    *captcha.Verifier
	PendingMFA *session.CeremonyStore
	// PasskeyLogin holds WebAuthn assertion challenges keyed by MFA token.
	PasskeyLogin *session.CeremonyStore
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, opts AuthOptions) *AuthHandler {
	return &AuthHandler{
		db:           db,
		cfg:          opts.Config,
		issuer:       opts.Issuer,
		mailer:       opts.Mailer,
		disposable:   opts.Disposable,
		captcha:      opts.Captcha,
		pendingMFA:   opts.PendingMFA,
		passkeyLogin: opts.PasskeyLogin,
	}
}

// signUpRequest defines the request body for sign-up.
type signUpRequest struct {
	Email        string `json:"email"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captchaToken"`
}

// SignUp creates an account, sends the verification email and signs the user in.
func (h *AuthHandler) SignUp(c *gin.Context) {
	if !internalsettings.DBConfigBool(internalsettings.SignUpEnabledKey, internalsettings.DefaultSignUpEnabled) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Sign up is disabled"})
		return
	}
	var body signUpRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	addr, ok := normalizeEmail(body.Email)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email address"})
		return
	}
	firstName := strings.TrimSpace(body.FirstName)
	lastName := strings.TrimSpace(body.LastName)
	if !validName(firstName) || !validName(lastName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name must be between 2 and 255 characters"})
		return
	}
	if len(body.Password) < minPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be at least 6 characters"})
		return
	}
	if !h.checkCaptcha(c, body.CaptchaToken) {
		return
	}

	ctx := c.Request.Context()
	var existing int64
	if errCount := h.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", addr).Count(&existing).Error; errCount != nil {
		log.WithError(errCount).Error("sign-up: lookup email failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if existing > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already taken"})
		return
	}

	switch errCheck := h.disposable.CheckSignUp(ctx, addr); {
	case errors.Is(errCheck, email.ErrDisposableAddress):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Disposable email addresses are not allowed"})
		return
	case errCheck != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Unable to verify email address at this time. Please try again later."})
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		log.WithError(errHash).Error("sign-up: hash password failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	user := models.User{
		Email:           addr,
		FirstName:       firstName,
		LastName:        lastName,
		Password:        hash,
		Role:            models.RoleUser,
		SignUpIPAddress: c.ClientIP(),
	}
	if errCreate := h.db.WithContext(ctx).Create(&user).Error; errCreate != nil {
		if errors.Is(errCreate, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already taken"})
			return
		}
		log.WithError(errCreate).Error("sign-up: create user failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.sendVerification(c, user)
	h.issuer.respondWithSession(c, http.StatusCreated, issueParams{userID: user.ID, authType: session.AuthPassword})
}

// signInRequest defines the request body for sign-in.
type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// pendingSignIn is the first-factor result waiting for a second factor.
type pendingSignIn struct {
	UserID uint64 `json:"userId"`
}

// SignIn checks the password and either signs the user in or asks for a
// second factor.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var body signInRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	addr, ok := normalizeEmail(body.Email)
	if !ok || len(body.Password) < minSignInPasswordSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid credentials"})
		return
	}

	var user models.User
	errFind := h.db.WithContext(c.Request.Context()).Where("email = ?", addr).First(&user).Error
	if errFind != nil && !errors.Is(errFind, gorm.ErrRecordNotFound) {
		log.WithError(errFind).Error("sign-in: query user failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	// Unknown users still pay for a hash comparison.
	if !security.CheckPassword(user.Password, body.Password) || errFind != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if user.Disabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "Account disabled"})
		return
	}

	if user.HasMFA() {
		mfaToken := uuid.NewString()
		if errPut := h.pendingMFA.Put(c.Request.Context(), mfaToken, pendingSignIn{UserID: user.ID}); errPut != nil {
			log.WithError(errPut).Error("sign-in: store pending mfa failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"mfaRequired":    true,
			"mfaToken":       mfaToken,
			"totpEnabled":    strings.TrimSpace(user.TOTPSecret) != "",
			"passkeyEnabled": len(user.PasskeyID) > 0 && len(user.PasskeyPublicKey) > 0,
		})
		return
	}

	h.issuer.respondWithSession(c, http.StatusOK, issueParams{userID: user.ID, authType: session.AuthPassword})
}

// SignOut deletes the current session and clears the cookie.
func (h *AuthHandler) SignOut(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	if errDel := h.issuer.Sessions.Delete(c.Request.Context(), sess.UserID, sess.ID); errDel != nil {
		log.WithError(errDel).WithField("user_id", sess.UserID).Error("sign-out: delete session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	apphttp.ClearSessionCookie(c, h.issuer.Cookie)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// forgotPasswordRequest defines the request body for password recovery.
type forgotPasswordRequest struct {
	Email        string `json:"email"`
	CaptchaToken string `json:"captchaToken"`
}

// ForgotPassword emails a reset link. It answers success whether or not the
// address belongs to an account.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var body forgotPasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !h.checkCaptcha(c, body.CaptchaToken) {
		return
	}
	addr, ok := normalizeEmail(body.Email)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email address"})
		return
	}

	ctx := c.Request.Context()
	var user models.User
	errFind := h.db.WithContext(ctx).Where("email = ?", addr).First(&user).Error
	switch {
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	case errFind != nil:
		log.WithError(errFind).Error("forgot-password: query user failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	raw, errToken := security.GenerateRandomString(resetTokenLength)
	if errToken != nil {
		log.WithError(errToken).Error("forgot-password: generate token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	row := models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: security.HashToken(raw),
		ExpiresAt: time.Now().UTC().Add(passwordResetTokenTTL),
	}
	if errCreate := h.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Error("forgot-password: store token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if errSend := h.mailer.SendPasswordReset(ctx, user.Email, raw); errSend != nil {
		log.WithError(errSend).WithField("user_id", user.ID).Warn("forgot-password: send email failed")
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// resetPasswordRequest defines the request body for password resets.
type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ResetPassword sets a new password from an emailed token and signs out
// every session of the user.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var body resetPasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if len(body.Password) < minPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be at least 6 characters"})
		return
	}
	token := strings.TrimSpace(body.Token)
	if token == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid or expired reset token"})
		return
	}

	ctx := c.Request.Context()
	var row models.PasswordResetToken
	errFind := h.db.WithContext(ctx).
		Where("token_hash = ? AND expires_at > ?", security.HashToken(token), time.Now().UTC()).
		First(&row).Error
	switch {
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid or expired reset token"})
		return
	case errFind != nil:
		log.WithError(errFind).Error("reset-password: query token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		log.WithError(errHash).Error("reset-password: hash password failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	errTx := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).Where("id = ?", row.UserID).Update("password", hash)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Delete(&models.PasswordResetToken{}, row.ID).Error
	})
	switch {
	case errors.Is(errTx, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	case errTx != nil:
		log.WithError(errTx).Error("reset-password: update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if errDel := h.issuer.Sessions.DeleteAllSessionsOfUser(ctx, row.UserID); errDel != nil {
		log.WithError(errDel).WithField("user_id", row.UserID).Warn("reset-password: delete sessions failed")
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// verifyEmailRequest defines the request body for email verification.
type verifyEmailRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// VerifyEmail marks the address verified using the emailed token.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var body verifyEmailRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	ctx := c.Request.Context()
	addr, _ := normalizeEmail(body.Email)

	var user models.User
	if errFind := h.db.WithContext(ctx).Where("email = ?", addr).First(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email address"})
			return
		}
		log.WithError(errFind).Error("verify-email: query user failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var row models.VerificationToken
	errFind := h.db.WithContext(ctx).Where("token = ?", strings.TrimSpace(body.Token)).First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) || (errFind == nil && row.UserID != user.ID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid verification token"})
		return
	}
	if errFind != nil {
		log.WithError(errFind).Error("verify-email: query token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	now := time.Now().UTC()
	if row.ExpiresAt.Before(now) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Expired verification token"})
		return
	}

	errTx := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDel := tx.Delete(&models.VerificationToken{}, row.ID).Error; errDel != nil {
			return errDel
		}
		return tx.Model(&models.User{}).Where("id = ?", user.ID).Update("email_verified_at", now).Error
	})
	if errTx != nil {
		log.WithError(errTx).Error("verify-email: update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An unexpected error occurred"})
		return
	}
	resyncSessions(c, h.issuer.Sessions, user.ID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ResendVerification sends a fresh verification email to the signed-in user.
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	if sess.User.EmailVerified != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is already verified"})
		return
	}
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, sess.UserID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if user.EmailVerifiedAt != nil {
		resyncSessions(c, h.issuer.Sessions, user.ID)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is already verified"})
		return
	}
	if !h.sendVerification(c, user) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send verification email"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// sendVerification stores a verification token and emails it. Failures are
// logged and reported as false.
func (h *AuthHandler) sendVerification(c *gin.Context, user models.User) bool {
	ctx := c.Request.Context()
	row := models.VerificationToken{
		Identifier: user.Email,
		Token:      uuid.NewString(),
		UserID:     user.ID,
		ExpiresAt:  time.Now().UTC().Add(verificationTokenTTL),
	}
	if errCreate := h.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithField("user_id", user.ID).Error("store verification token failed")
		return false
	}
	if errSend := h.mailer.SendVerification(ctx, user.Email, row.Token); errSend != nil {
		log.WithError(errSend).WithField("user_id", user.ID).Warn("send verification email failed")
		return false
	}
	return true
}

// checkCaptcha verifies the Turnstile token, writing the error response on failure.
func (h *AuthHandler) checkCaptcha(c *gin.Context, token string) bool {
	okCaptcha, errVerify := h.captcha.Verify(c.Request.Context(), token, c.ClientIP())
	if errVerify != nil {
		log.WithError(errVerify).Warn("captcha verification failed")
	}
	if !okCaptcha {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please complete the captcha"})
		return false
	}
	return true
}
