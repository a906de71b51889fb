package auth

import (
	"crypto/hmac"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Verifier validates tokens produced by Signer. The loopback server used in
// tests and local runs checks handshakes with it.
type Verifier struct {
	keyed
	leeway time.Duration
}

// NewVerifier constructs a verifier for the shared secret and clock skew allowance.
func NewVerifier(secret string, leeway time.Duration) (*Verifier, error) {
	k, err := newKeyed(secret)
	if err != nil {
		return nil, err
	}
	return &Verifier{keyed: k, leeway: max(leeway, 0)}, nil
}

// WithClock overrides the verifier clock for deterministic tests.
func (v *Verifier) WithClock(clock func() time.Time) {
	if clock != nil {
		v.now = clock
	}
}

// Verify checks structure, signature and expiry and returns the claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if v == nil {
		return nil, ErrNoSecret
	}
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	//1.- Reject foreign algorithms before spending time on the signature.
	var header tokenHeader
	if err := decodeSegment(parts[0], &header); err != nil {
		return nil, err
	}
	if header.Algorithm != algorithm {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, header.Algorithm)
	}

	//2.- Compare signatures in constant time.
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(signature, v.mac(parts[0]+"."+parts[1])) {
		return nil, ErrInvalidToken
	}

	//3.- Only then trust the payload.
	var payload tokenPayload
	if err := decodeSegment(parts[1], &payload); err != nil {
		return nil, err
	}
	if strings.TrimSpace(payload.Subject) == "" || payload.Expires <= 0 {
		return nil, ErrInvalidToken
	}
	expiresAt := time.Unix(payload.Expires, 0)
	if expiresAt.Add(v.leeway).Before(v.now()) {
		return nil, ErrExpiredToken
	}
	return &Claims{
		Subject:   payload.Subject,
		Session:   payload.Session,
		Audience:  payload.Audience,
		IssuedAt:  time.Unix(payload.Issued, 0),
		ExpiresAt: expiresAt,
	}, nil
}
