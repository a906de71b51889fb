package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// Signer mints compact HS256 tokens for the connection handshake.
type Signer struct {
	keyed
	ttl time.Duration
}

// NewSigner returns a signer issuing tokens valid for ttl (one minute when unset).
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	k, err := newKeyed(secret)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Signer{keyed: k, ttl: ttl}, nil
}

// WithClock overrides the signer clock for deterministic tests.
func (s *Signer) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Sign issues a token for subject. session and audience are optional.
func (s *Signer) Sign(subject, session, audience string) (string, error) {
	if s == nil {
		return "", ErrNoSecret
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("token subject must not be empty")
	}
	now := s.now()
	header, err := encodeSegment(tokenHeader{Algorithm: algorithm, Type: "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := encodeSegment(tokenPayload{
		Subject:  subject,
		Session:  session,
		Audience: audience,
		Issued:   now.Unix(),
		Expires:  now.Add(s.ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	input := header + "." + payload
	return input + "." + base64.RawURLEncoding.EncodeToString(s.mac(input)), nil
}
