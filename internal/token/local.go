package token

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// LocalProvider mints HS256 JWTs locally. It backs the local/dev
// environments where no token API is reachable; the loopback engine accepts
// any non-empty token.
type LocalProvider struct {
	secret []byte
	issuer string
	ttl    time.Duration

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewLocalProvider(secret, issuer string, ttl time.Duration) (*LocalProvider, error) {
	if secret == "" {
		return nil, errors.New("token: local provider secret is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &LocalProvider{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		clock:  time.Now,
	}, nil
}

type localClaims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"device_id"`
}

func (p *LocalProvider) FetchToken(ctx context.Context, creds Credentials, deviceID string) (string, error) {
	if !creds.Valid() {
		return "", &Error{Code: "INVALID_CREDENTIALS", Message: "access key id, secret and user id are required"}
	}
	if deviceID == "" {
		return "", &Error{Code: "INVALID_DEVICE", Message: "device id is required"}
	}

	now := p.clock().UTC()
	claims := localClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   creds.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			ID:        uuid.NewString(),
		},
		DeviceID: deviceID,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(p.secret)
	if err != nil {
		return "", &Error{Code: "SIGNING_FAILED", Message: err.Error()}
	}
	return signed, nil
}
