package security

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/router-for-me/CreditLedger/internal/settings"
)

const testSecret = "0123456789abcdef0123"

func TestSessionTokenRoundTrip(t *testing.T) {
	signed, err := GenerateSessionToken(testSecret, 7, "raw-token", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ParseSessionToken(testSecret, signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != 7 || claims.Token != "raw-token" || claims.Subject != "7" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseSessionTokenRejects(t *testing.T) {
	expired, _ := GenerateSessionToken(testSecret, 7, "raw", -time.Minute)
	if _, err := ParseSessionToken(testSecret, expired); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expired err = %v", err)
	}
	signed, _ := GenerateSessionToken(testSecret, 7, "raw", time.Hour)
	if _, err := ParseSessionToken("another-secret-value", signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret err = %v", err)
	}
	if _, err := ParseSessionToken(testSecret, "not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage err = %v", err)
	}
	empty, _ := GenerateSessionToken(testSecret, 0, "raw", time.Hour)
	if _, err := ParseSessionToken(testSecret, empty); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("zero user err = %v", err)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "correct horse") {
		t.Fatalf("expected match")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("expected mismatch")
	}
	if CheckPassword("", "anything") {
		t.Fatalf("empty hash must never match")
	}
}

func TestRandomStringAndHash(t *testing.T) {
	a, err := GenerateRandomString(32)
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	b, _ := GenerateRandomString(32)
	if len(a) != 32 || a == b {
		t.Fatalf("unexpected random values %q %q", a, b)
	}
	odd, _ := GenerateRandomString(7)
	if len(odd) != 7 {
		t.Fatalf("odd length = %d", len(odd))
	}
	if HashToken("x") != HashToken("x") || len(HashToken("x")) != 64 {
		t.Fatalf("hash should be stable hex sha256")
	}
}

func TestNewWebAuthnDerivesFromSiteURL(t *testing.T) {
	settings.StoreDBConfig(time.Now(), nil)
	wa, err := NewWebAuthn("https://app.example.com/some/path", "Example")
	if err != nil {
		t.Fatalf("webauthn: %v", err)
	}
	if wa.Config.RPID != "app.example.com" {
		t.Fatalf("rp id = %q", wa.Config.RPID)
	}
	if len(wa.Config.RPOrigins) != 1 || wa.Config.RPOrigins[0] != "https://app.example.com" {
		t.Fatalf("origins = %v", wa.Config.RPOrigins)
	}
	if wa.Config.RPDisplayName != "Example" {
		t.Fatalf("rp name = %q", wa.Config.RPDisplayName)
	}
}

func TestNewWebAuthnSettingsOverride(t *testing.T) {
	settings.StoreDBConfig(time.Now(), map[string]json.RawMessage{
		settings.WebAuthnOriginsKey: json.RawMessage(`["https://login.example.org"]`),
		settings.WebAuthnRPNameKey:  json.RawMessage(`"Ledger Login"`),
	})
	t.Cleanup(func() { settings.StoreDBConfig(time.Time{}, nil) })

	wa, err := NewWebAuthn("https://app.example.com", "Example")
	if err != nil {
		t.Fatalf("webauthn: %v", err)
	}
	if wa.Config.RPID != "login.example.org" || wa.Config.RPDisplayName != "Ledger Login" {
		t.Fatalf("config = %+v", wa.Config)
	}
}
