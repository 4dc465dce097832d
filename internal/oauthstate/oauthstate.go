// oauthstate.go defines the single-use state tokens that tie an OAuth
// authorization redirect to its callback. A token is minted when the user is
// sent to the code host, must come back unchanged on the callback, and is
// destroyed on first use so a replayed callback cannot complete the flow.
package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"time"
)

// TTL is how long an issued state token stays redeemable. Authorization flows
// that take longer than this must be restarted.
const TTL = 10 * time.Minute

// ErrStateInvalid is returned when a callback presents a state token that was
// never issued, has expired, or was already consumed.
var ErrStateInvalid = errors.New("oauth state is invalid, expired, or already used")

// Payload is the context bound to a state token at issue time and returned
// exactly once on consumption. UserID ties the callback to the principal who
// started the flow, so a stolen state token cannot attach a code-host account
// to someone else's identity.
type Payload struct {
	UserID     string `json:"user_id"`
	Provider   string `json:"provider"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// Store persists state tokens for the duration of an authorization flow.
//
// Consume must be single-use: the first call for a token returns its payload
// and invalidates it, every later call returns ErrStateInvalid.
type Store interface {
	Put(ctx context.Context, state string, p Payload) error
	Consume(ctx context.Context, state string) (Payload, error)
}

// NewToken mints a state token with 256 bits of entropy, encoded URL-safe so
// it survives the round trip through the code host's redirect.
func NewToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
