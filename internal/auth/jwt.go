package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTSecretEnv names the environment variable holding the HS256 signing secret.
const JWTSecretEnv = "REGISTRY_JWT_SECRET"

// DefaultTokenTTL applies when GenerateJWT is given no lifetime.
const DefaultTokenTTL = time.Hour

const (
	jwtIssuer          = "package-registry"
	minSecretLength    = 32
	generatedSecretLen = 32
)

// ErrInvalidToken wraps every reason a bearer JWT is rejected.
var ErrInvalidToken = errors.New("invalid token")

var (
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims identifies the user a token was issued to.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	return devMode == "true" || devMode == "1" || os.Getenv("GIN_MODE") == "debug"
}

func randomSecret() (string, error) {
	buf := make([]byte, generatedSecretLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// ValidateJWTSecret loads the signing secret once. Outside dev mode a missing
// REGISTRY_JWT_SECRET is an error; in dev mode a random per-process secret is
// used instead. Call this at startup when JWT credentials are enabled.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv(JWTSecretEnv)
		switch {
		case secret != "":
			if len(secret) < minSecretLength {
				slog.Warn("jwt secret is shorter than recommended", "env", JWTSecretEnv, "min_length", minSecretLength)
			}
			jwtSecret = secret
		case isDevMode():
			generated, err := randomSecret()
			if err != nil {
				jwtSecretErr = fmt.Errorf("failed to generate dev jwt secret: %w", err)
				return
			}
			jwtSecret = generated
			slog.Warn("jwt secret not set, using a generated one; tokens will not survive a restart", "env", JWTSecretEnv)
		default:
			jwtSecretErr = fmt.Errorf("%s environment variable is required (generate one with: openssl rand -hex 32)", JWTSecretEnv)
		}
	})
	return jwtSecretErr
}

func signingKey() ([]byte, error) {
	if err := ValidateJWTSecret(); err != nil {
		return nil, err
	}
	return []byte(jwtSecret), nil
}

// GenerateJWT issues an HS256 token for a user. A zero lifetime means
// DefaultTokenTTL.
func GenerateJWT(userID, email string, expiresIn time.Duration) (string, error) {
	key, err := signingKey()
	if err != nil {
		return "", err
	}
	if expiresIn == 0 {
		expiresIn = DefaultTokenTTL
	}

	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    jwtIssuer,
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// ValidateJWT verifies signature, issuer and expiry and returns the claims.
// Rejections wrap ErrInvalidToken.
func ValidateJWT(tokenString string) (*Claims, error) {
	key, err := signingKey()
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithIssuer(jwtIssuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return claims, nil
}
