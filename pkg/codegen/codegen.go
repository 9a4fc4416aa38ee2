// Package codegen produces verification tokens and numeric one-time codes.
package codegen

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

const (
	tokenBytes = 32
	otpMin     = 100000
	otpSpan    = 900000 // 100000..999999 inclusive
)

// Generator issues opaque tokens and 6-digit codes.
type Generator interface {
	Token() string
	OTP() string
}

// Default is the crypto/rand backed Generator.
var Default Generator = randomGenerator{}

type randomGenerator struct{}

func (randomGenerator) Token() string { return NewToken() }
func (randomGenerator) OTP() string   { return NewOTP() }

// NewToken returns a URL-safe random token. It panics if the entropy source fails.
func NewToken() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("codegen: entropy source failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// NewOTP returns a 6-digit code drawn uniformly from 100000-999999.
// It panics if the entropy source fails.
func NewOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(otpSpan))
	if err != nil {
		panic(fmt.Sprintf("codegen: entropy source failed: %v", err))
	}
	return fmt.Sprintf("%06d", n.Int64()+otpMin)
}
