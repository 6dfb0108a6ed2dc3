package auth

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-jwt-secret-that-is-32-chars-!"

// resetJWTSecret resets the package-level sync.Once so tests can set a fresh secret.
func resetJWTSecret() {
	jwtSecret = ""
	jwtSecretOnce = sync.Once{}
	jwtSecretErr = nil
}

func TestMain(m *testing.M) {
	os.Setenv(JWTSecretEnv, testSecret)
	os.Exit(m.Run())
}

func TestValidateJWTSecret(t *testing.T) {
	t.Cleanup(resetJWTSecret)

	t.Run("valid secret from env", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv(JWTSecretEnv, "exactly-32-char-secret-for-test!!")
		if err := ValidateJWTSecret(); err != nil {
			t.Errorf("ValidateJWTSecret() unexpected error: %v", err)
		}
	})

	t.Run("secret required outside dev mode", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv(JWTSecretEnv, "")
		t.Setenv("DEV_MODE", "")
		t.Setenv("GIN_MODE", "release")
		if err := ValidateJWTSecret(); err == nil {
			t.Error("ValidateJWTSecret() expected error without secret, got nil")
		}
	})

	t.Run("dev mode generates random secret", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv(JWTSecretEnv, "")
		t.Setenv("DEV_MODE", "true")
		if err := ValidateJWTSecret(); err != nil {
			t.Errorf("ValidateJWTSecret() unexpected error in dev mode: %v", err)
		}
		if key, err := signingKey(); err != nil || len(key) != 2*generatedSecretLen {
			t.Errorf("signingKey() = %d bytes, %v; want a hex-encoded generated secret", len(key), err)
		}
	})
}

func TestGenerateAndValidateJWT(t *testing.T) {
	resetJWTSecret()
	t.Cleanup(resetJWTSecret)

	t.Run("round trip", func(t *testing.T) {
		token, err := GenerateJWT("user-123", "test@example.com", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}

		claims, err := ValidateJWT(token)
		if err != nil {
			t.Fatalf("ValidateJWT() error: %v", err)
		}
		if claims.UserID != "user-123" || claims.Email != "test@example.com" {
			t.Errorf("claims = %+v", claims)
		}
		if claims.Issuer != "package-registry" {
			t.Errorf("claims.Issuer = %q, want package-registry", claims.Issuer)
		}
	})

	t.Run("default expiry when zero duration", func(t *testing.T) {
		token, err := GenerateJWT("uid", "u@example.com", 0)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}
		claims, err := ValidateJWT(token)
		if err != nil {
			t.Fatalf("ValidateJWT() error: %v", err)
		}
		remaining := time.Until(claims.ExpiresAt.Time)
		if remaining < 50*time.Minute || remaining > 70*time.Minute {
			t.Errorf("default expiry remaining = %v, want ~1h", remaining)
		}
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		token, err := GenerateJWT("uid", "u@example.com", -time.Second)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}
		if _, err := ValidateJWT(token); err == nil {
			t.Error("ValidateJWT() expected error for expired token, got nil")
		}
	})

	t.Run("garbage and empty tokens", func(t *testing.T) {
		for _, tok := range []string{"not.a.valid.token", "", "pkr_abcdefghijk"} {
			if _, err := ValidateJWT(tok); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("ValidateJWT(%q) err = %v, want ErrInvalidToken", tok, err)
			}
		}
	})

	t.Run("other signing methods are rejected", func(t *testing.T) {
		claims := &Claims{
			UserID: "uid",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				Issuer:    jwtIssuer,
			},
		}
		token, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
		if _, err := ValidateJWT(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateJWT() err = %v, want ErrInvalidToken for HS512", err)
		}
	})

	t.Run("token without user id is rejected", func(t *testing.T) {
		claims := &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				Issuer:    jwtIssuer,
			},
		}
		token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if _, err := ValidateJWT(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateJWT() err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("foreign issuer is rejected", func(t *testing.T) {
		claims := &Claims{
			UserID: "uid",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				Issuer:    "someone-else",
			},
		}
		token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if _, err := ValidateJWT(token); err == nil {
			t.Error("ValidateJWT() accepted a token from another issuer")
		}
	})

	t.Run("token signed with different secret is rejected", func(t *testing.T) {
		token, err := GenerateJWT("uid", "u@example.com", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}

		resetJWTSecret()
		t.Setenv(JWTSecretEnv, "completely-different-secret-32ch!")
		if _, err := ValidateJWT(token); err == nil {
			t.Error("ValidateJWT() expected error for token signed with different secret, got nil")
		}
		resetJWTSecret()
	})
}

func TestValidateJWT_WithoutSecretFails(t *testing.T) {
	resetJWTSecret()
	t.Cleanup(resetJWTSecret)
	t.Setenv(JWTSecretEnv, "")
	t.Setenv("DEV_MODE", "")
	t.Setenv("GIN_MODE", "")

	if _, err := ValidateJWT("a.b.c"); err == nil || errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateJWT() err = %v, want a configuration error", err)
	}
	if _, err := GenerateJWT("uid", "u@example.com", time.Hour); err == nil {
		t.Error("GenerateJWT() expected error without a secret")
	}
}
