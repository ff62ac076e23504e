package wallet

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotConnected = errors.New("wallet not connected")
	ErrRejected     = errors.New("signature rejected by user")
)

// Signer produces a signed transaction envelope for address. Implementations
// may block until the user answers the wallet prompt; cancelling ctx aborts.
type Signer interface {
	Sign(ctx context.Context, unsignedXDR, address string) (string, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, unsignedXDR, address string) (string, error)

func (f SignerFunc) Sign(ctx context.Context, unsignedXDR, address string) (string, error) {
	return f(ctx, unsignedXDR, address)
}

// Session is the acting user's wallet connection, passed explicitly into
// every coordinator action.
type Session struct {
	UserID  uuid.UUID
	Address string
	Signer  Signer
}

func NewSession(userID uuid.UUID, address string, signer Signer) Session {
	return Session{UserID: userID, Address: strings.TrimSpace(address), Signer: signer}
}

func (s Session) Connected() bool {
	return s.Address != "" && s.Signer != nil
}

// Sign asks the session's signer for a signature. A cancelled context is
// reported as a rejection since the user walked away from the prompt.
func (s Session) Sign(ctx context.Context, unsignedXDR string) (string, error) {
	if !s.Connected() {
		return "", ErrNotConnected
	}
	signed, err := s.Signer.Sign(ctx, unsignedXDR, s.Address)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", ErrRejected
		}
		return "", err
	}
	if signed == "" {
		return "", ErrRejected
	}
	return signed, nil
}
