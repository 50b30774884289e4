package token

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Provider mints a short-lived access token for a signaling session.
// Implementations are stateless per request; caching is a decorator concern.
type Provider interface {
	FetchToken(ctx context.Context, creds Credentials, deviceID string) (string, error)
}

// Credentials identify the account a session signs in with.
// The secret must never be logged.
type Credentials struct {
	AccessKeyID     string
	AccessKeySecret string
	UserID          string
}

func (c Credentials) Valid() bool {
	return c.AccessKeyID != "" && c.AccessKeySecret != "" && c.UserID != ""
}

// Error is a token-minting failure with a provider error code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return "token: [" + e.Code + "] " + e.Message
}

// NewDeviceID generates a per-client device identifier. It is created once
// per process at startup and stays stable for the process lifetime.
func NewDeviceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
