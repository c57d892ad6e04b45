// Package session stores sign-in sessions in Redis and keeps the cached user
// snapshot, including the credit balance, in step with the database.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/CreditLedger/internal/credits"
	"github.com/router-for-me/CreditLedger/internal/models"
	"github.com/router-for-me/CreditLedger/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CurrentVersion is bumped whenever the cached User shape changes; older
// sessions get their snapshot rebuilt on the next validation.
const CurrentVersion = 2

// DefaultTTL is the lifetime of a session record.
const DefaultTTL = 30 * 24 * time.Hour

// tokenLength is the number of random characters in a raw session token.
const tokenLength = 32

// Authentication types recorded on a session.
const (
	AuthPassword = "password"
	AuthTOTP     = "totp"
	AuthPasskey  = "passkey"
)

// ErrUserNotFound is returned when a session is created for a missing user.
var ErrUserNotFound = errors.New("session: user not found")

// User is the user snapshot cached inside a session.
type User struct {
	ID                  uint64     `json:"id"`
	Email               string     `json:"email"`
	FirstName           string     `json:"firstName"`
	LastName            string     `json:"lastName"`
	Role                string     `json:"role"`
	EmailVerified       *time.Time `json:"emailVerified"`
	CurrentCredits      int64      `json:"currentCredits"`
	LastCreditRefreshAt *time.Time `json:"lastCreditRefreshAt"`
	TOTPEnabled         bool       `json:"totpEnabled"`
	PasskeyEnabled      bool       `json:"passkeyEnabled"`
}

// IsAdmin reports whether the cached role is admin.
func (u User) IsAdmin() bool { return u.Role == models.RoleAdmin }

// Session is the JSON payload stored under session:<userID>:<sessionID>.
type Session struct {
	ID                  string    `json:"id"`
	UserID              uint64    `json:"userId"`
	ExpiresAt           time.Time `json:"expiresAt"`
	CreatedAt           time.Time `json:"createdAt"`
	User                User      `json:"user"`
	AuthenticationType  string    `json:"authenticationType"`
	PasskeyCredentialID string    `json:"passkeyCredentialId,omitempty"`
	IPAddress           string    `json:"ipAddress,omitempty"`
	UserAgent           string    `json:"userAgent,omitempty"`
	Version             int       `json:"version"`
}

// CreditRefresher is the part of the ledger a session needs.
type CreditRefresher interface {
	Now() time.Time
	ShouldRefreshCredits(last *time.Time, now time.Time) bool
	AddFreeMonthlyCreditsIfNeeded(ctx context.Context, user credits.SessionUser) (int64, error)
}

// Store persists sessions in Redis.
type Store struct {
	rdb       *redis.Client
	db        *gorm.DB
	refresher CreditRefresher
	ttl       time.Duration
}

// NewStore builds a session store. A zero ttl selects DefaultTTL.
func NewStore(rdb *redis.Client, db *gorm.DB, refresher CreditRefresher, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, db: db, refresher: refresher, ttl: ttl}
}

// TTL returns the session lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Key returns the Redis key of one session.
func Key(userID uint64, sessionID string) string {
	return fmt.Sprintf("session:%d:%s", userID, sessionID)
}

func userPattern(userID uint64) string {
	return "session:" + strconv.FormatUint(userID, 10) + ":*"
}

// NewToken returns a fresh raw session token.
func NewToken() (string, error) {
	return security.GenerateRandomString(tokenLength)
}

// IDFromToken derives the stored session id from a raw token.
func IDFromToken(token string) string {
	return security.HashToken(token)
}

// CreateParams describes a new session.
type CreateParams struct {
	UserID              uint64
	Token               string
	AuthenticationType  string
	PasskeyCredentialID string
	IPAddress           string
	UserAgent           string
}

func (s *Store) now() time.Time {
	if s.refresher != nil {
		return s.refresher.Now().UTC()
	}
	return time.Now().UTC()
}

// Create stores a new session for the user and returns it.
func (s *Store) Create(ctx context.Context, params CreateParams) (*Session, error) {
	if strings.TrimSpace(params.Token) == "" {
		return nil, errors.New("session: empty token")
	}
	user, errLoad := s.loadUser(ctx, params.UserID)
	if errLoad != nil {
		return nil, errLoad
	}
	authType := params.AuthenticationType
	if authType == "" {
		authType = AuthPassword
	}
	now := s.now()
	sess := &Session{
		ID:                  IDFromToken(params.Token),
		UserID:              params.UserID,
		ExpiresAt:           now.Add(s.ttl),
		CreatedAt:           now,
		User:                user,
		AuthenticationType:  authType,
		PasskeyCredentialID: params.PasskeyCredentialID,
		IPAddress:           params.IPAddress,
		UserAgent:           params.UserAgent,
		Version:             CurrentVersion,
	}
	payload, errMarshal := json.Marshal(sess)
	if errMarshal != nil {
		return nil, errMarshal
	}
	if errSet := s.rdb.Set(ctx, Key(sess.UserID, sess.ID), payload, s.ttl).Err(); errSet != nil {
		return nil, fmt.Errorf("session: store: %w", errSet)
	}
	return sess, nil
}

// Validate loads the session for a raw token. It returns nil without error
// when the session is missing or expired. A valid session has the monthly
// credit refresh applied and its cached balance brought up to date.
func (s *Store) Validate(ctx context.Context, userID uint64, token string) (*Session, error) {
	key := Key(userID, IDFromToken(token))
	sess, errGet := s.get(ctx, key)
	if errGet != nil || sess == nil {
		return nil, errGet
	}
	now := s.now()
	if !now.Before(sess.ExpiresAt) {
		if errDel := s.rdb.Del(ctx, key).Err(); errDel != nil {
			log.WithError(errDel).Warn("session: delete expired session failed")
		}
		return nil, nil
	}

	dirty := false
	if sess.Version != CurrentVersion {
		user, errLoad := s.loadUser(ctx, sess.UserID)
		if errors.Is(errLoad, ErrUserNotFound) {
			_ = s.rdb.Del(ctx, key).Err()
			return nil, nil
		}
		if errLoad != nil {
			return nil, errLoad
		}
		sess.User = user
		sess.Version = CurrentVersion
		dirty = true
	}

	if s.refresher != nil {
		due := s.refresher.ShouldRefreshCredits(sess.User.LastCreditRefreshAt, now)
		balance, errRefresh := s.refresher.AddFreeMonthlyCreditsIfNeeded(ctx, credits.SessionUser{
			ID:                  sess.User.ID,
			CurrentCredits:      sess.User.CurrentCredits,
			LastCreditRefreshAt: sess.User.LastCreditRefreshAt,
		})
		switch {
		case errRefresh != nil:
			log.WithError(errRefresh).WithField("user_id", sess.UserID).Warn("session: credit refresh failed")
		case due:
			user, errLoad := s.loadUser(ctx, sess.UserID)
			if errLoad != nil {
				return nil, errLoad
			}
			sess.User = user
			sess.User.CurrentCredits = balance
			dirty = true
		case balance != sess.User.CurrentCredits:
			sess.User.CurrentCredits = balance
			dirty = true
		}
	}

	if dirty {
		if errSave := s.save(ctx, key, sess); errSave != nil {
			log.WithError(errSave).WithField("user_id", sess.UserID).Warn("session: persist refreshed session failed")
		}
	}
	return sess, nil
}

// Delete removes one session.
func (s *Store) Delete(ctx context.Context, userID uint64, sessionID string) error {
	return s.rdb.Del(ctx, Key(userID, sessionID)).Err()
}

// DeleteAllSessionsOfUser removes every session of the user.
func (s *Store) DeleteAllSessionsOfUser(ctx context.Context, userID uint64) error {
	keys, errScan := s.scanKeys(ctx, userID)
	if errScan != nil {
		return errScan
	}
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// UpdateAllSessionsOfUser rebuilds the cached user snapshot of every session
// of the user from the database.
func (s *Store) UpdateAllSessionsOfUser(ctx context.Context, userID uint64) error {
	user, errLoad := s.loadUser(ctx, userID)
	if errors.Is(errLoad, ErrUserNotFound) {
		return s.DeleteAllSessionsOfUser(ctx, userID)
	}
	if errLoad != nil {
		return errLoad
	}
	keys, errScan := s.scanKeys(ctx, userID)
	if errScan != nil {
		return errScan
	}
	for _, key := range keys {
		sess, errGet := s.get(ctx, key)
		if errGet != nil {
			return errGet
		}
		if sess == nil {
			continue
		}
		sess.User = user
		sess.Version = CurrentVersion
		if errSave := s.save(ctx, key, sess); errSave != nil {
			return errSave
		}
	}
	return nil
}

// ListSessions returns the user's live sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, userID uint64) ([]Session, error) {
	keys, errScan := s.scanKeys(ctx, userID)
	if errScan != nil {
		return nil, errScan
	}
	now := s.now()
	out := make([]Session, 0, len(keys))
	for _, key := range keys {
		sess, errGet := s.get(ctx, key)
		if errGet != nil {
			return nil, errGet
		}
		if sess == nil || !now.Before(sess.ExpiresAt) {
			continue
		}
		out = append(out, *sess)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) get(ctx context.Context, key string) (*Session, error) {
	raw, errGet := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(errGet, redis.Nil) {
		return nil, nil
	}
	if errGet != nil {
		return nil, fmt.Errorf("session: load: %w", errGet)
	}
	var sess Session
	if errUnmarshal := json.Unmarshal(raw, &sess); errUnmarshal != nil {
		log.WithError(errUnmarshal).WithField("key", key).Warn("session: dropping unreadable session")
		_ = s.rdb.Del(ctx, key).Err()
		return nil, nil
	}
	return &sess, nil
}

// save overwrites a session payload, keeping the key's remaining TTL.
func (s *Store) save(ctx context.Context, key string, sess *Session) error {
	payload, errMarshal := json.Marshal(sess)
	if errMarshal != nil {
		return errMarshal
	}
	return s.rdb.SetArgs(ctx, key, payload, redis.SetArgs{KeepTTL: true}).Err()
}

func (s *Store) scanKeys(ctx context.Context, userID uint64) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, userPattern(userID), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if errIter := iter.Err(); errIter != nil {
		return nil, fmt.Errorf("session: scan: %w", errIter)
	}
	return keys, nil
}

func (s *Store) loadUser(ctx context.Context, userID uint64) (User, error) {
	var row models.User
	errFind := s.db.WithContext(ctx).First(&row, userID).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if errFind != nil {
		return User{}, errFind
	}
	return SnapshotOf(row), nil
}

// SnapshotOf converts a stored user into the cached session form.
func SnapshotOf(row models.User) User {
	return User{
		ID:                  row.ID,
		Email:               row.Email,
		FirstName:           row.FirstName,
		LastName:            row.LastName,
		Role:                row.Role,
		EmailVerified:       row.EmailVerifiedAt,
		CurrentCredits:      row.CurrentCredits,
		LastCreditRefreshAt: row.LastCreditRefreshAt,
		TOTPEnabled:         strings.TrimSpace(row.TOTPSecret) != "",
		PasskeyEnabled:      len(row.PasskeyID) > 0 && len(row.PasskeyPublicKey) > 0,
	}
}
