package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-email/pkg/identity"
)

// memoryState is the whole dataset. Stored values are never mutated in place, so a
// shallow copy of the maps is enough to isolate a transaction.
type memoryState struct {
	accounts     map[uuid.UUID]identity.Account
	emailRecords map[uuid.UUID]identity.EmailRecord
	changeLog    []identity.ChangeLogEntry
	pendingUsers map[uuid.UUID]identity.PendingUser
	nextChangeID int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		accounts:     make(map[uuid.UUID]identity.Account),
		emailRecords: make(map[uuid.UUID]identity.EmailRecord),
		pendingUsers: make(map[uuid.UUID]identity.PendingUser),
		nextChangeID: 1,
	}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		accounts:     make(map[uuid.UUID]identity.Account, len(s.accounts)),
		emailRecords: make(map[uuid.UUID]identity.EmailRecord, len(s.emailRecords)),
		changeLog:    make([]identity.ChangeLogEntry, len(s.changeLog)),
		pendingUsers: make(map[uuid.UUID]identity.PendingUser, len(s.pendingUsers)),
		nextChangeID: s.nextChangeID,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.emailRecords {
		c.emailRecords[k] = v
	}
	copy(c.changeLog, s.changeLog)
	for k, v := range s.pendingUsers {
		c.pendingUsers[k] = v
	}
	return c
}

// MemoryStore keeps everything in process memory. Transactions run one at a time
// against a private copy that replaces the live state only when fn succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
	// onCommit runs before the new state becomes visible; an error aborts the commit.
	onCommit func(*memoryState) error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

// WithTx runs fn against a copy of the state. It must not be nested.
func (s *MemoryStore) WithTx(ctx context.Context, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{st: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}
	if s.onCommit != nil {
		if err := s.onCommit(tx.st); err != nil {
			return err
		}
	}
	s.state = tx.st
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// memoryTx implements every repository against one transaction's state.
type memoryTx struct {
	st    *memoryState
	dirty bool
}

func (t *memoryTx) Accounts() AccountRepository         { return t }
func (t *memoryTx) EmailRecords() EmailRecordRepository { return t }
func (t *memoryTx) ChangeLog() ChangeLogRepository      { return t }
func (t *memoryTx) PendingUsers() PendingUserRepository { return t }

func stamp(created *time.Time) {
	if created.IsZero() {
		*created = time.Now().UTC()
	}
}

// accounts

func (t *memoryTx) CreateAccount(_ context.Context, account identity.Account) (identity.Account, error) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if _, exists := t.st.accounts[account.ID]; exists {
		return identity.Account{}, ErrConflict
	}
	stamp(&account.CreatedAt)
	account.UpdatedAt = account.CreatedAt
	t.st.accounts[account.ID] = account
	t.dirty = true
	return account, nil
}

func (t *memoryTx) GetAccount(_ context.Context, id uuid.UUID) (identity.Account, error) {
	account, ok := t.st.accounts[id]
	if !ok {
		return identity.Account{}, ErrNotFound
	}
	return account, nil
}

func (t *memoryTx) SetPrimaryEmail(_ context.Context, id uuid.UUID, email string, now time.Time) error {
	account, ok := t.st.accounts[id]
	if !ok {
		return ErrNotFound
	}
	account.PrimaryEmail = email
	account.UpdatedAt = now
	t.st.accounts[id] = account
	t.dirty = true
	return nil
}

func (t *memoryTx) RecentWorkers(_ context.Context, since time.Time, limit int) ([]identity.WorkerIdentity, error) {
	var workers []identity.WorkerIdentity
	for _, a := range t.st.accounts {
		if a.Kind != identity.AccountKindWorker || a.CreatedAt.Before(since) {
			continue
		}
		workers = append(workers, identity.WorkerIdentity{
			AccountID: a.ID,
			FullName:  a.DisplayName,
			Email:     a.PrimaryEmail,
			CreatedAt: a.CreatedAt,
		})
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].CreatedAt.After(workers[j].CreatedAt) })
	if limit > 0 && len(workers) > limit {
		workers = workers[:limit]
	}
	return workers, nil
}

// email records

// LockAddress is a no-op; the store mutex already serializes transactions.
func (t *memoryTx) LockAddress(context.Context, string) error { return nil }

func (t *memoryTx) CreateEmailRecord(_ context.Context, rec identity.EmailRecord) (identity.EmailRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == identity.EmailStatusPrimary {
		for _, other := range t.st.emailRecords {
			if other.Status == identity.EmailStatusPrimary && (other.AccountID == rec.AccountID || other.Address == rec.Address) {
				return identity.EmailRecord{}, ErrConflict
			}
		}
	}
	stamp(&rec.CreatedAt)
	rec.UpdatedAt = rec.CreatedAt
	t.st.emailRecords[rec.ID] = rec
	t.dirty = true
	return rec, nil
}

func (t *memoryTx) GetEmailRecord(_ context.Context, id uuid.UUID) (identity.EmailRecord, error) {
	rec, ok := t.st.emailRecords[id]
	if !ok {
		return identity.EmailRecord{}, ErrNotFound
	}
	return rec, nil
}

func (t *memoryTx) filterRecords(match func(identity.EmailRecord) bool) []identity.EmailRecord {
	var out []identity.EmailRecord
	for _, rec := range t.st.emailRecords {
		if match(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (t *memoryTx) FindEmailRecordsByAddress(_ context.Context, address string) ([]identity.EmailRecord, error) {
	return t.filterRecords(func(r identity.EmailRecord) bool { return strings.EqualFold(r.Address, address) }), nil
}

func (t *memoryTx) FindEmailRecordsByAccount(_ context.Context, accountID uuid.UUID) ([]identity.EmailRecord, error) {
	return t.filterRecords(func(r identity.EmailRecord) bool { return r.AccountID == accountID }), nil
}

func (t *memoryTx) FindPrimaryEmailRecord(_ context.Context, accountID uuid.UUID) (identity.EmailRecord, error) {
	for _, rec := range t.st.emailRecords {
		if rec.AccountID == accountID && rec.Status == identity.EmailStatusPrimary {
			return rec, nil
		}
	}
	return identity.EmailRecord{}, ErrNotFound
}

func (t *memoryTx) FindPendingByCode(_ context.Context, address, code string, kind identity.CodeKind) (identity.EmailRecord, error) {
	for _, rec := range t.st.emailRecords {
		if rec.Address == address && rec.VerificationCode == code && rec.CodeKind == kind &&
			rec.Status == identity.EmailStatusPendingVerification && rec.VerifiedAt == nil {
			return rec, nil
		}
	}
	return identity.EmailRecord{}, ErrNotFound
}

func (t *memoryTx) IssueVerificationCode(_ context.Context, id uuid.UUID, code string, kind identity.CodeKind, expiresAt, now time.Time) error {
	rec, ok := t.st.emailRecords[id]
	if !ok || rec.VerifiedAt != nil ||
		(rec.Status != identity.EmailStatusUnverified && rec.Status != identity.EmailStatusPendingVerification) {
		return ErrNotFound
	}
	rec.Status = identity.EmailStatusPendingVerification
	rec.VerificationCode = code
	rec.CodeKind = kind
	rec.CodeExpiresAt = &expiresAt
	rec.UpdatedAt = now
	t.st.emailRecords[id] = rec
	t.dirty = true
	return nil
}

func (t *memoryTx) PromoteToPrimary(_ context.Context, id uuid.UUID, now time.Time) error {
	rec, ok := t.st.emailRecords[id]
	if !ok || rec.VerifiedAt != nil {
		return ErrNotFound
	}
	for _, other := range t.st.emailRecords {
		if other.ID != id && other.Status == identity.EmailStatusPrimary &&
			(other.AccountID == rec.AccountID || other.Address == rec.Address) {
			return ErrConflict
		}
	}
	rec.Status = identity.EmailStatusPrimary
	rec.VerifiedAt = &now
	rec.VerificationCode = ""
	rec.CodeKind = ""
	rec.CodeExpiresAt = nil
	rec.UpdatedAt = now
	t.st.emailRecords[id] = rec
	t.dirty = true
	return nil
}

func (t *memoryTx) DetachEmailRecord(_ context.Context, id uuid.UUID, now, graceExpiresAt time.Time) error {
	rec, ok := t.st.emailRecords[id]
	if !ok || rec.Status != identity.EmailStatusPrimary {
		return ErrNotFound
	}
	rec.Status = identity.EmailStatusDetached
	rec.DetachedAt = &now
	rec.GraceExpiresAt = &graceExpiresAt
	rec.UpdatedAt = now
	t.st.emailRecords[id] = rec
	t.dirty = true
	return nil
}

func (t *memoryTx) DeleteExpiredDetached(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, rec := range t.st.emailRecords {
		if rec.Status == identity.EmailStatusDetached && rec.GraceExpiresAt != nil && !rec.GraceExpiresAt.After(now) {
			delete(t.st.emailRecords, id)
			n++
		}
	}
	if n > 0 {
		t.dirty = true
	}
	return n, nil
}

func expiredClaim(rec identity.EmailRecord, before time.Time) bool {
	return rec.Status == identity.EmailStatusPendingVerification && rec.VerifiedAt == nil &&
		(rec.CodeExpiresAt == nil || rec.CodeExpiresAt.Before(before))
}

func releaseClaim(rec identity.EmailRecord, now time.Time) identity.EmailRecord {
	rec.Status = identity.EmailStatusUnverified
	rec.VerificationCode = ""
	rec.CodeKind = ""
	rec.CodeExpiresAt = nil
	rec.UpdatedAt = now
	return rec
}

func (t *memoryTx) ReleaseExpiredClaim(_ context.Context, id uuid.UUID, now time.Time) error {
	rec, ok := t.st.emailRecords[id]
	if !ok || !expiredClaim(rec, now) {
		return ErrNotFound
	}
	t.st.emailRecords[id] = releaseClaim(rec, now)
	t.dirty = true
	return nil
}

func (t *memoryTx) ReleaseExpiredClaims(_ context.Context, before, now time.Time) (int64, error) {
	var n int64
	for id, rec := range t.st.emailRecords {
		if expiredClaim(rec, before) {
			t.st.emailRecords[id] = releaseClaim(rec, now)
			n++
		}
	}
	if n > 0 {
		t.dirty = true
	}
	return n, nil
}

// change log

func (t *memoryTx) AppendChange(_ context.Context, entry identity.ChangeLogEntry) (identity.ChangeLogEntry, error) {
	entry.ID = t.st.nextChangeID
	t.st.nextChangeID++
	stamp(&entry.Timestamp)
	t.st.changeLog = append(t.st.changeLog, entry)
	t.dirty = true
	return entry, nil
}

func (t *memoryTx) ListChanges(_ context.Context, accountID uuid.UUID) ([]identity.ChangeLogEntry, error) {
	var out []identity.ChangeLogEntry
	for _, e := range t.st.changeLog {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

// pending users

func (t *memoryTx) CreatePendingUser(_ context.Context, p identity.PendingUser) (identity.PendingUser, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	for _, other := range t.st.pendingUsers {
		if other.Email == p.Email || other.VerificationToken == p.VerificationToken {
			return identity.PendingUser{}, ErrConflict
		}
	}
	stamp(&p.CreatedAt)
	p.UpdatedAt = p.CreatedAt
	t.st.pendingUsers[p.ID] = p
	t.dirty = true
	return p, nil
}

func (t *memoryTx) FindPendingUserByEmail(_ context.Context, email string) (identity.PendingUser, error) {
	for _, p := range t.st.pendingUsers {
		if p.Email == email {
			return p, nil
		}
	}
	return identity.PendingUser{}, ErrNotFound
}

func (t *memoryTx) FindPendingUserByToken(_ context.Context, token string) (identity.PendingUser, error) {
	for _, p := range t.st.pendingUsers {
		if p.VerificationToken == token {
			return p, nil
		}
	}
	return identity.PendingUser{}, ErrNotFound
}

func (t *memoryTx) UpdatePendingUser(_ context.Context, p identity.PendingUser) error {
	existing, ok := t.st.pendingUsers[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.Email = existing.Email
	p.CreatedAt = existing.CreatedAt
	t.st.pendingUsers[p.ID] = p
	t.dirty = true
	return nil
}

func (t *memoryTx) DeletePendingUser(_ context.Context, id uuid.UUID) error {
	if _, ok := t.st.pendingUsers[id]; !ok {
		return ErrNotFound
	}
	delete(t.st.pendingUsers, id)
	t.dirty = true
	return nil
}

func (t *memoryTx) DeleteExpiredPendingUsers(_ context.Context, before time.Time) (int64, error) {
	var n int64
	for id, p := range t.st.pendingUsers {
		if p.TokenExpiry.Before(before) {
			delete(t.st.pendingUsers, id)
			n++
		}
	}
	if n > 0 {
		t.dirty = true
	}
	return n, nil
}
