// Package twofa verifies the optional second factor that guards an email change.
//
// Delivering codes is out of scope here: the TOTP verifier checks codes from an
// authenticator app against the secret stored on the account.
//
//	verifier := twofa.NewTOTPVerifier(twofa.WithSkew(1))
//	used, err := verifier.Check(ctx, account, code)
//
// Accounts without a secret pass with used == false, so callers can record whether the
// request was actually protected by a second factor.
package twofa
