package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrNoSecret reports a signer or verifier built without a shared secret.
	ErrNoSecret = errors.New("hmac secret must not be empty")
)

const algorithm = "HS256"

// Claims is the payload carried by handshake tokens.
type Claims struct {
	Subject   string
	Session   string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

type tokenPayload struct {
	Subject  string `json:"sub"`
	Session  string `json:"sid,omitempty"`
	Audience string `json:"aud,omitempty"`
	Issued   int64  `json:"iat"`
	Expires  int64  `json:"exp"`
}

type keyed struct {
	secret []byte
	now    func() time.Time
}

func newKeyed(secret string) (keyed, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return keyed{}, ErrNoSecret
	}
	return keyed{secret: []byte(secret), now: time.Now}, nil
}

func (k *keyed) mac(input string) []byte {
	mac := hmac.New(sha256.New, k.secret)
	mac.Write([]byte(input))
	return mac.Sum(nil)
}

func encodeSegment(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode token segment: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeSegment(segment string, v any) error {
	data, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return ErrInvalidToken
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ErrInvalidToken
	}
	return nil
}
