package twofa

import (
	"context"

	"github.com/tendant/simple-idm-email/pkg/identity"
)

// NoOpVerifier never requires a second factor. Use it when 2FA is not configured.
type NoOpVerifier struct{}

func (NoOpVerifier) Check(context.Context, identity.Account, string) (bool, error) {
	return false, nil
}
