package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tendant/simple-idm-email/pkg/identity"
)

const dataFileName = "email_identity.json"

// fileAccount keeps the secret fields that identity.Account hides from JSON.
type fileAccount struct {
	identity.Account
	PasswordHash string `json:"password_hash"`
	TOTPSecret   string `json:"totp_secret,omitempty"`
}

// fileData represents the structure of data stored in the JSON file
type fileData struct {
	Accounts     []fileAccount             `json:"accounts"`
	EmailRecords []identity.EmailRecord    `json:"email_records"`
	ChangeLog    []identity.ChangeLogEntry `json:"change_log"`
	PendingUsers []identity.PendingUser    `json:"pending_users"`
	NextChangeID int64                     `json:"next_change_id"`
}

// NewFileStore creates a memory store that persists every commit to a JSON file in dataDir.
func NewFileStore(dataDir string) (*MemoryStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	state, err := loadState(filepath.Join(dataDir, dataFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return &MemoryStore{
		state: state,
		onCommit: func(st *memoryState) error {
			return saveState(dataDir, st)
		},
	}, nil
}

func loadState(path string) (*memoryState, error) {
	st := newMemoryState()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}

	var fd fileData
	if err := json.Unmarshal(data, &fd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	for _, fa := range fd.Accounts {
		a := fa.Account
		a.PasswordHash = fa.PasswordHash
		a.TOTPSecret = fa.TOTPSecret
		st.accounts[a.ID] = a
	}
	for _, rec := range fd.EmailRecords {
		st.emailRecords[rec.ID] = rec
	}
	for _, p := range fd.PendingUsers {
		st.pendingUsers[p.ID] = p
	}
	st.changeLog = fd.ChangeLog
	if fd.NextChangeID > st.nextChangeID {
		st.nextChangeID = fd.NextChangeID
	}
	return st, nil
}

// saveState writes the state to file atomically
func saveState(dataDir string, st *memoryState) error {
	fd := fileData{
		Accounts:     make([]fileAccount, 0, len(st.accounts)),
		EmailRecords: make([]identity.EmailRecord, 0, len(st.emailRecords)),
		ChangeLog:    st.changeLog,
		PendingUsers: make([]identity.PendingUser, 0, len(st.pendingUsers)),
		NextChangeID: st.nextChangeID,
	}
	for _, a := range st.accounts {
		fd.Accounts = append(fd.Accounts, fileAccount{Account: a, PasswordHash: a.PasswordHash, TOTPSecret: a.TOTPSecret})
	}
	for _, rec := range st.emailRecords {
		fd.EmailRecords = append(fd.EmailRecords, rec)
	}
	for _, p := range st.pendingUsers {
		fd.PendingUsers = append(fd.PendingUsers, p)
	}

	jsonData, err := json.MarshalIndent(fd, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(dataDir, dataFileName+".tmp")
	if err := os.WriteFile(tempFile, jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, filepath.Join(dataDir, dataFileName)); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
