// Package password hashes and checks account passwords.
//
// New hashes use the configured Hasher; Verify recognizes both bcrypt and argon2id
// encodings so accounts created under either keep working.
package password

import (
	"errors"
	"strings"
)

var (
	ErrEmptyPassword   = errors.New("password cannot be empty")
	ErrUnknownHashType = errors.New("unrecognized password hash format")
)

// Hasher produces and checks one hash encoding.
type Hasher interface {
	Hash(password string) (string, error)
	// Verify reports a mismatch as (false, nil); errors mean the hash is unusable.
	Verify(password, hash string) (bool, error)
}

// Manager hashes with a preferred Hasher and verifies any supported encoding.
type Manager struct {
	current Hasher
	argon2  Hasher
	bcrypt  Hasher
}

// NewManager creates a manager that hashes new passwords with current.
// A nil current defaults to argon2id.
func NewManager(current Hasher) *Manager {
	m := &Manager{
		argon2: NewArgon2Hasher(),
		bcrypt: NewBcryptHasher(0),
	}
	if current == nil {
		current = m.argon2
	}
	m.current = current
	return m
}

// Hash encodes password with the current hasher.
func (m *Manager) Hash(password string) (string, error) {
	return m.current.Hash(password)
}

// Verify picks the hasher from the hash prefix.
func (m *Manager) Verify(password, hash string) (bool, error) {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return m.argon2.Verify(password, hash)
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return m.bcrypt.Verify(password, hash)
	}
	return false, ErrUnknownHashType
}
