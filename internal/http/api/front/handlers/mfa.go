package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/pquerna/otp/totp"
	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/router-for-me/CreditLedger/internal/models"
	"github.com/router-for-me/CreditLedger/internal/security"
	"github.com/router-for-me/CreditLedger/internal/session"
	internalsettings "github.com/router-for-me/CreditLedger/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MFAHandler handles second-factor enrolment endpoints.
type MFAHandler struct {
	db                  *gorm.DB
	cfg                 config.Config
	sessions            *session.Store
	totpPending         *session.CeremonyStore
	passkeyRegistration *session.CeremonyStore
}

// NewMFAHandler constructs an MFAHandler. totpPending holds unconfirmed TOTP
// secrets and passkeyRegistration holds WebAuthn creation challenges, both
// keyed by user ID.
func NewMFAHandler(db *gorm.DB, cfg config.Config, sessions *session.Store, totpPending, passkeyRegistration *session.CeremonyStore) *MFAHandler {
	return &MFAHandler{
		db:                  db,
		cfg:                 cfg,
		sessions:            sessions,
		totpPending:         totpPending,
		passkeyRegistration: passkeyRegistration,
	}
}

// loadWebAuthn builds the relying party from the current settings.
func loadWebAuthn(cfg config.Config) (*webauthn.WebAuthn, error) {
	return security.NewWebAuthn(cfg.SiteURL, cfg.SiteName)
}

// userWebAuthnUser adapts a user model to WebAuthn interfaces.
type userWebAuthnUser struct {
	id          uint64
	name        string
	displayName string
	credentials []webauthn.Credential
}

// WebAuthnID returns the user ID as a byte slice.
func (u userWebAuthnUser) WebAuthnID() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, u.id)
	return buf
}

func (u userWebAuthnUser) WebAuthnName() string { return u.name }

func (u userWebAuthnUser) WebAuthnDisplayName() string { return u.displayName }

func (u userWebAuthnUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// newUserWebAuthnUser builds a WebAuthn adapter from a user model.
func newUserWebAuthnUser(user models.User) userWebAuthnUser {
	out := userWebAuthnUser{
		id:          user.ID,
		name:        user.Email,
		displayName: user.DisplayName(),
	}
	if len(user.PasskeyID) > 0 && len(user.PasskeyPublicKey) > 0 {
		signCount := uint32(0)
		if user.PasskeySignCount != nil {
			signCount = *user.PasskeySignCount
		}
		flags := webauthn.CredentialFlags{}
		if user.PasskeyBackupEligible != nil {
			flags.BackupEligible = *user.PasskeyBackupEligible
		}
		if user.PasskeyBackupState != nil {
			flags.BackupState = *user.PasskeyBackupState
		}
		out.credentials = []webauthn.Credential{
			{
				ID:        user.PasskeyID,
				PublicKey: user.PasskeyPublicKey,
				Flags:     flags,
				Authenticator: webauthn.Authenticator{
					SignCount: signCount,
				},
			},
		}
	}
	return out
}

func userKey(userID uint64) string {
	return strconv.FormatUint(userID, 10)
}

// loadUser reads the user or writes the error response.
func loadUser(c *gin.Context, db *gorm.DB, userID uint64) (models.User, bool) {
	var user models.User
	if errFind := db.WithContext(c.Request.Context()).First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return models.User{}, false
		}
		log.WithError(errFind).WithField("user_id", userID).Error("query user failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return models.User{}, false
	}
	return user, true
}

// Status returns MFA enablement status for the user.
func (h *MFAHandler) Status(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	user, ok := loadUser(c, h.db, userID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totpEnabled":    strings.TrimSpace(user.TOTPSecret) != "",
		"passkeyEnabled": len(user.PasskeyID) > 0 && len(user.PasskeyPublicKey) > 0,
	})
}

// PrepareTOTP generates a new TOTP secret and QR code.
func (h *MFAHandler) PrepareTOTP(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	user, ok := loadUser(c, h.db, userID)
	if !ok {
		return
	}

	issuer := internalsettings.DBConfigString(internalsettings.SiteNameKey)
	if issuer == "" {
		issuer = h.cfg.SiteName
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: user.Email,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate TOTP secret"})
		return
	}
	if errPut := h.totpPending.Put(c.Request.Context(), userKey(user.ID), key.Secret()); errPut != nil {
		log.WithError(errPut).WithField("user_id", user.ID).Error("store pending totp secret failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	qrImage := ""
	if img, errImage := key.Image(220, 220); errImage == nil {
		var buf bytes.Buffer
		if errEncode := png.Encode(&buf, img); errEncode == nil {
			qrImage = "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"secret":     key.Secret(),
		"otpauthUrl": key.URL(),
		"qrImage":    qrImage,
	})
}

// totpCodeRequest carries a TOTP code.
type totpCodeRequest struct {
	Code string `json:"code"`
}

// ConfirmTOTP validates the first code and enables TOTP for the user.
func (h *MFAHandler) ConfirmTOTP(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	var body totpCodeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	code := strings.TrimSpace(body.Code)
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing code"})
		return
	}

	var secret string
	found, errPeek := h.totpPending.Peek(c.Request.Context(), userKey(userID), &secret)
	if errPeek != nil {
		log.WithError(errPeek).WithField("user_id", userID).Error("load pending totp secret failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !found {
		c.JSON(http.StatusBadRequest, gin.H{"error": "TOTP setup expired"})
		return
	}
	if !totp.Validate(code, secret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid code"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", userID).
		Update("totp_secret", secret).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	_, _ = h.totpPending.Take(c.Request.Context(), userKey(userID), &secret)
	resyncSessions(c, h.sessions, userID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DisableTOTP removes the user's TOTP secret.
func (h *MFAHandler) DisableTOTP(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	res := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", userID).
		Update("totp_secret", "")
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	var discarded string
	_, _ = h.totpPending.Take(c.Request.Context(), userKey(userID), &discarded)
	resyncSessions(c, h.sessions, userID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DisablePasskey removes the user's passkey credential.
func (h *MFAHandler) DisablePasskey(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	res := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"passkey_id":              nil,
			"passkey_public_key":      nil,
			"passkey_sign_count":      nil,
			"passkey_backup_eligible": nil,
			"passkey_backup_state":    nil,
		})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	var discarded webauthn.SessionData
	_, _ = h.passkeyRegistration.Take(c.Request.Context(), userKey(userID), &discarded)
	resyncSessions(c, h.sessions, userID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// BeginPasskeyRegistration starts a passkey registration ceremony.
func (h *MFAHandler) BeginPasskeyRegistration(c *gin.Context) {
	webAuthn, errWebAuthn := loadWebAuthn(h.cfg)
	if errWebAuthn != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Passkeys are not configured"})
		return
	}
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	user, ok := loadUser(c, h.db, userID)
	if !ok {
		return
	}

	webauthnUser := newUserWebAuthnUser(user)
	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			UserVerification: protocol.VerificationPreferred,
		}),
	}
	if len(webauthnUser.WebAuthnCredentials()) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(webauthnUser.WebAuthnCredentials()).CredentialDescriptors()))
	}

	creation, sessionData, err := webAuthn.BeginRegistration(webauthnUser, options...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start passkey registration"})
		return
	}
	if errPut := h.passkeyRegistration.Put(c.Request.Context(), userKey(user.ID), sessionData); errPut != nil {
		log.WithError(errPut).WithField("user_id", user.ID).Error("store passkey registration failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, creation)
}

// FinishPasskeyRegistration completes a passkey registration ceremony.
func (h *MFAHandler) FinishPasskeyRegistration(c *gin.Context) {
	webAuthn, errWebAuthn := loadWebAuthn(h.cfg)
	if errWebAuthn != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Passkeys are not configured"})
		return
	}
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	user, ok := loadUser(c, h.db, userID)
	if !ok {
		return
	}

	var sessionData webauthn.SessionData
	found, errTake := h.passkeyRegistration.Take(c.Request.Context(), userKey(user.ID), &sessionData)
	if errTake != nil {
		log.WithError(errTake).WithField("user_id", user.ID).Error("load passkey registration failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !found {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Registration expired"})
		return
	}

	credential, err := webAuthn.FinishRegistration(newUserWebAuthnUser(user), sessionData, c.Request)
	if err != nil {
		log.WithError(err).WithField("user_id", user.ID).Warn("passkey registration failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Registration failed"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"passkey_id":              credential.ID,
			"passkey_public_key":      credential.PublicKey,
			"passkey_sign_count":      credential.Authenticator.SignCount,
			"passkey_backup_eligible": credential.Flags.BackupEligible,
			"passkey_backup_state":    credential.Flags.BackupState,
		}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	resyncSessions(c, h.sessions, userID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// mfaTokenRequest carries the token returned by a password sign-in that
// needs a second factor.
type mfaTokenRequest struct {
	MFAToken string `json:"mfaToken"`
	Code     string `json:"code"`
}

// pendingUser resolves an MFA token to its user without consuming it.
func (h *AuthHandler) pendingUser(c *gin.Context, mfaToken string) (models.User, bool) {
	mfaToken = strings.TrimSpace(mfaToken)
	if mfaToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing MFA token"})
		return models.User{}, false
	}
	var pending pendingSignIn
	found, errPeek := h.pendingMFA.Peek(c.Request.Context(), mfaToken, &pending)
	if errPeek != nil {
		log.WithError(errPeek).Error("load pending sign-in failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return models.User{}, false
	}
	if !found {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Sign-in expired"})
		return models.User{}, false
	}
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, pending.UserID).Error; errFind != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return models.User{}, false
	}
	if user.Disabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "Account disabled"})
		return models.User{}, false
	}
	return user, true
}

// consumePending marks the MFA token used. It reports false when another
// request consumed it first.
func (h *AuthHandler) consumePending(c *gin.Context, mfaToken string) bool {
	var pending pendingSignIn
	found, errTake := h.pendingMFA.Take(c.Request.Context(), strings.TrimSpace(mfaToken), &pending)
	if errTake != nil || !found {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Sign-in expired"})
		return false
	}
	return true
}

// SignInTOTP completes a sign-in with a TOTP code.
func (h *AuthHandler) SignInTOTP(c *gin.Context) {
	var body mfaTokenRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	user, ok := h.pendingUser(c, body.MFAToken)
	if !ok {
		return
	}
	if strings.TrimSpace(user.TOTPSecret) == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "TOTP is not enabled"})
		return
	}
	if !totp.Validate(strings.TrimSpace(body.Code), user.TOTPSecret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid code"})
		return
	}
	if !h.consumePending(c, body.MFAToken) {
		return
	}
	h.issuer.respondWithSession(c, http.StatusOK, issueParams{userID: user.ID, authType: session.AuthTOTP})
}

// SignInPasskeyOptions starts a passkey assertion for a pending sign-in.
func (h *AuthHandler) SignInPasskeyOptions(c *gin.Context) {
	webAuthn, errWebAuthn := loadWebAuthn(h.cfg)
	if errWebAuthn != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Passkeys are not configured"})
		return
	}
	var body mfaTokenRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	user, ok := h.pendingUser(c, body.MFAToken)
	if !ok {
		return
	}
	if len(user.PasskeyID) == 0 || len(user.PasskeyPublicKey) == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Passkey is not enabled"})
		return
	}

	assertion, sessionData, err := webAuthn.BeginLogin(newUserWebAuthnUser(user), webauthn.WithUserVerification(protocol.VerificationPreferred))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start passkey sign-in"})
		return
	}
	if errPut := h.passkeyLogin.Put(c.Request.Context(), strings.TrimSpace(body.MFAToken), sessionData); errPut != nil {
		log.WithError(errPut).WithField("user_id", user.ID).Error("store passkey login failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, assertion)
}

// SignInPasskeyVerify completes a pending sign-in with a passkey assertion.
// The MFA token travels in the query string; the body is the assertion.
func (h *AuthHandler) SignInPasskeyVerify(c *gin.Context) {
	webAuthn, errWebAuthn := loadWebAuthn(h.cfg)
	if errWebAuthn != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Passkeys are not configured"})
		return
	}
	mfaToken := strings.TrimSpace(c.Query("mfaToken"))
	user, ok := h.pendingUser(c, mfaToken)
	if !ok {
		return
	}
	if len(user.PasskeyID) == 0 || len(user.PasskeyPublicKey) == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Passkey is not enabled"})
		return
	}

	var sessionData webauthn.SessionData
	found, errTake := h.passkeyLogin.Take(c.Request.Context(), mfaToken, &sessionData)
	if errTake != nil || !found {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Sign-in expired"})
		return
	}

	rawBody, errRead := io.ReadAll(c.Request.Body)
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(rawBody))

	webauthnUser := newUserWebAuthnUser(user)
	// Credentials stored before flag tracking take their flags from the assertion.
	if (user.PasskeyBackupEligible == nil || user.PasskeyBackupState == nil) && len(webauthnUser.credentials) > 0 {
		parsed, errParse := protocol.ParseCredentialRequestResponseBytes(rawBody)
		if errParse != nil {
			log.WithError(errParse).WithField("user_id", user.ID).Warn("passkey assertion parse failed")
		} else {
			webauthnUser.credentials[0].Flags.BackupEligible = parsed.Response.AuthenticatorData.Flags.HasBackupEligible()
			webauthnUser.credentials[0].Flags.BackupState = parsed.Response.AuthenticatorData.Flags.HasBackupState()
		}
	}

	credential, err := webAuthn.FinishLogin(webauthnUser, sessionData, c.Request)
	if err != nil {
		log.WithError(err).WithField("user_id", user.ID).Warn("passkey sign-in failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Passkey verification failed"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"passkey_sign_count":      credential.Authenticator.SignCount,
			"passkey_backup_eligible": credential.Flags.BackupEligible,
			"passkey_backup_state":    credential.Flags.BackupState,
		}).Error; errUpdate != nil {
		log.WithError(errUpdate).WithField("user_id", user.ID).Warn("update passkey sign count failed")
	}

	if !h.consumePending(c, mfaToken) {
		return
	}
	h.issuer.respondWithSession(c, http.StatusOK, issueParams{
		userID:              user.ID,
		authType:            session.AuthPasskey,
		passkeyCredentialID: base64.RawURLEncoding.EncodeToString(credential.ID),
	})
}
