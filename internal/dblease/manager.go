// Package dblease hands out time-bounded claims on pooled database
// connections. Transaction-isolated test units run bracketed by a lease:
// begin before the unit, commit on pass, rollback on failure. A hard
// transaction timeout forces rollback, and an expiry reclaimer sweeps up
// leases their holders never returned.
package dblease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLeaseLimit is returned by Acquire when every lease slot is taken.
var ErrLeaseLimit = errors.New("lease limit reached")

// TransactionTimeoutError reports a transaction that exceeded its hard
// timeout and was forcibly rolled back.
type TransactionTimeoutError struct {
	Holder  string        // who held the lease
	LeaseID string        // the lease the transaction ran on
	Timeout time.Duration // the limit that was exceeded
}

// Error implements the error interface for TransactionTimeoutError.
func (e *TransactionTimeoutError) Error() string {
	return fmt.Sprintf("transaction for %s exceeded %s and was rolled back", e.Holder, e.Timeout)
}

// IsTransactionTimeout checks if the error is or wraps a TransactionTimeoutError.
func IsTransactionTimeout(err error) bool {
	if err == nil {
		return false
	}
	var tt *TransactionTimeoutError
	return errors.As(err, &tt)
}

// Logger is the narrow logging surface the manager needs. The console and
// file loggers satisfy it; nil disables logging.
type Logger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
}

// Config controls lease capacity and timing.
type Config struct {
	MaxLeases          int           // concurrent lease cap
	LeaseTTL           time.Duration // how long a lease lives before reclamation
	TransactionTimeout time.Duration // hard limit per transaction, forces rollback
}

// DefaultConfig returns the standard lease configuration.
func DefaultConfig() Config {
	return Config{
		MaxLeases:          5,
		LeaseTTL:           2 * time.Minute,
		TransactionTimeout: 30 * time.Second,
	}
}

// LeaseInfo is a point-in-time view of one active lease.
type LeaseInfo struct {
	ID            string
	Holder        string
	AcquiredAt    time.Time
	ExpiresAt     time.Time
	InTransaction bool
}

// Manager owns the lease table over one *sql.DB. The database handle itself
// stays owned by the caller; Close releases leases, not the pool.
type Manager struct {
	db     *sql.DB
	cfg    Config
	logger Logger

	mu        sync.Mutex
	leases    map[string]*Lease
	reclaimed int
	timeouts  int
}

// NewManager creates a lease manager over an open database handle.
func NewManager(db *sql.DB, cfg Config) *Manager {
	return NewManagerWithLogger(db, cfg, nil)
}

// NewManagerWithLogger creates a lease manager that reports through logger.
// Zero config fields fall back to defaults.
func NewManagerWithLogger(db *sql.DB, cfg Config, logger Logger) *Manager {
	defaults := DefaultConfig()
	if cfg.MaxLeases <= 0 {
		cfg.MaxLeases = defaults.MaxLeases
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaults.LeaseTTL
	}
	if cfg.TransactionTimeout <= 0 {
		cfg.TransactionTimeout = defaults.TransactionTimeout
	}
	return &Manager{
		db:     db,
		cfg:    cfg,
		logger: logger,
		leases: make(map[string]*Lease),
	}
}

// Acquire claims a pooled connection for holder. The lease expires after the
// configured TTL unless released first.
func (m *Manager) Acquire(ctx context.Context, holder string) (*Lease, error) {
	m.mu.Lock()
	if len(m.leases) >= m.cfg.MaxLeases {
		active := len(m.leases)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %d of %d held", ErrLeaseLimit, active, m.cfg.MaxLeases)
	}
	m.mu.Unlock()

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for %s: %w", holder, err)
	}

	now := time.Now()
	lease := &Lease{
		ID:         uuid.NewString(),
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.cfg.LeaseTTL),
		conn:       conn,
		manager:    m,
	}

	m.mu.Lock()
	// Re-check under the lock: another Acquire may have raced past the
	// first gate while we were dialing.
	if len(m.leases) >= m.cfg.MaxLeases {
		active := len(m.leases)
		m.mu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("%w: %d of %d held", ErrLeaseLimit, active, m.cfg.MaxLeases)
	}
	m.leases[lease.ID] = lease
	m.mu.Unlock()

	m.debugf("lease %s acquired by %s", lease.ID[:8], holder)
	return lease, nil
}

// ReclaimExpired rolls back and closes every lease past its expiry, and
// returns how many were reclaimed.
func (m *Manager) ReclaimExpired(now time.Time) int {
	m.mu.Lock()
	var expired []*Lease
	for id, lease := range m.leases {
		if now.After(lease.ExpiresAt) {
			expired = append(expired, lease)
			delete(m.leases, id)
		}
	}
	m.reclaimed += len(expired)
	m.mu.Unlock()

	for _, lease := range expired {
		lease.forceClose()
		m.warnf("lease %s held by %s expired and was reclaimed", lease.ID[:8], lease.Holder)
	}
	return len(expired)
}

// Active returns the number of currently held leases.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leases)
}

// Reclaimed returns how many leases expiry reclamation has taken back.
func (m *Manager) Reclaimed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reclaimed
}

// Timeouts returns how many transactions the hard timeout rolled back.
func (m *Manager) Timeouts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeouts
}

// Snapshot returns a stable view of the active leases, sorted by holder.
func (m *Manager) Snapshot() []LeaseInfo {
	m.mu.Lock()
	leases := make([]*Lease, 0, len(m.leases))
	for _, lease := range m.leases {
		leases = append(leases, lease)
	}
	m.mu.Unlock()

	infos := make([]LeaseInfo, 0, len(leases))
	for _, lease := range leases {
		infos = append(infos, LeaseInfo{
			ID:            lease.ID,
			Holder:        lease.Holder,
			AcquiredAt:    lease.AcquiredAt,
			ExpiresAt:     lease.ExpiresAt,
			InTransaction: lease.InTransaction(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Holder != infos[j].Holder {
			return infos[i].Holder < infos[j].Holder
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Close releases every outstanding lease. The underlying *sql.DB is the
// caller's to close.
func (m *Manager) Close() error {
	m.mu.Lock()
	var held []*Lease
	for id, lease := range m.leases {
		held = append(held, lease)
		delete(m.leases, id)
	}
	m.mu.Unlock()

	for _, lease := range held {
		lease.forceClose()
	}
	return nil
}

func (m *Manager) removeLease(id string) {
	m.mu.Lock()
	delete(m.leases, id)
	m.mu.Unlock()
}

func (m *Manager) noteTimeout(l *Lease) {
	m.mu.Lock()
	m.timeouts++
	m.mu.Unlock()
	m.warnf("transaction for %s exceeded %s, forced rollback", l.Holder, m.cfg.TransactionTimeout)
}

func (m *Manager) debugf(format string, args ...interface{}) {
	if m.logger != nil {
		m.logger.LogDebug(fmt.Sprintf(format, args...))
	}
}

func (m *Manager) warnf(format string, args ...interface{}) {
	if m.logger != nil {
		m.logger.LogWarn(fmt.Sprintf(format, args...))
	}
}

// Lease is one claimed connection. All methods are safe for concurrent use;
// the transaction timeout fires from a timer goroutine.
type Lease struct {
	ID         string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time

	manager *Manager
	conn    *sql.Conn // set once at acquisition, closed on release

	mu       sync.Mutex
	tx       *sql.Tx
	txTimer  *time.Timer
	timedOut bool
	released bool
}

// Begin opens a transaction at the given isolation level. The manager's
// transaction timeout starts counting immediately; if it fires before Commit,
// the transaction is rolled back and Commit reports a TransactionTimeoutError.
func (l *Lease) Begin(ctx context.Context, isolation sql.IsolationLevel) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return errors.New("lease already released")
	}
	if l.tx != nil {
		return errors.New("transaction already open")
	}

	tx, err := l.conn.BeginTx(ctx, &sql.TxOptions{Isolation: isolation})
	if err != nil {
		return fmt.Errorf("begin transaction for %s: %w", l.Holder, err)
	}
	l.tx = tx
	l.timedOut = false
	l.txTimer = time.AfterFunc(l.manager.cfg.TransactionTimeout, l.onTxTimeout)
	return nil
}

// Commit commits the open transaction. If the hard timeout already forced a
// rollback, Commit returns the TransactionTimeoutError instead.
func (l *Lease) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timedOut {
		return &TransactionTimeoutError{
			Holder:  l.Holder,
			LeaseID: l.ID,
			Timeout: l.manager.cfg.TransactionTimeout,
		}
	}
	if l.tx == nil {
		return errors.New("no open transaction")
	}
	l.stopTimerLocked()
	err := l.tx.Commit()
	l.tx = nil
	if err != nil {
		return fmt.Errorf("commit transaction for %s: %w", l.Holder, err)
	}
	return nil
}

// Rollback discards the open transaction. Rolling back with no transaction
// open is a no-op, so failure paths can call it unconditionally.
func (l *Lease) Rollback() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tx == nil {
		return nil
	}
	l.stopTimerLocked()
	err := l.tx.Rollback()
	l.tx = nil
	if err != nil {
		return fmt.Errorf("rollback transaction for %s: %w", l.Holder, err)
	}
	return nil
}

// Release returns the connection to the pool, rolling back any open
// transaction first. Releasing twice is harmless.
func (l *Lease) Release() error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return nil
	}
	l.released = true
	l.stopTimerLocked()
	if l.tx != nil {
		l.tx.Rollback()
		l.tx = nil
	}
	err := l.conn.Close()
	l.mu.Unlock()

	l.manager.removeLease(l.ID)
	if err != nil {
		return fmt.Errorf("release lease for %s: %w", l.Holder, err)
	}
	return nil
}

// ExecContext runs a statement on the open transaction, or directly on the
// leased connection when no transaction is open.
func (l *Lease) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	tx, conn, err := l.target()
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the open transaction, or directly on the
// leased connection when no transaction is open.
func (l *Lease) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	tx, conn, err := l.target()
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the open transaction, or
// directly on the leased connection when no transaction is open.
func (l *Lease) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	tx, conn, err := l.target()
	if err != nil {
		// Mirror database/sql: the error surfaces on Scan.
		return l.conn.QueryRowContext(ctx, query, args...)
	}
	if tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return conn.QueryRowContext(ctx, query, args...)
}

// InTransaction reports whether the lease has an open transaction.
func (l *Lease) InTransaction() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tx != nil
}

// TimedOut reports whether the hard timeout rolled this lease's transaction
// back.
func (l *Lease) TimedOut() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timedOut
}

// Expired reports whether the lease is past its TTL.
func (l *Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

func (l *Lease) target() (*sql.Tx, *sql.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil, nil, errors.New("lease already released")
	}
	return l.tx, l.conn, nil
}

// onTxTimeout fires from the transaction timer: the rollback is forced here,
// not deferred to the holder.
func (l *Lease) onTxTimeout() {
	l.mu.Lock()
	if l.tx == nil || l.released {
		l.mu.Unlock()
		return
	}
	l.tx.Rollback()
	l.tx = nil
	l.timedOut = true
	l.mu.Unlock()

	l.manager.noteTimeout(l)
}

// forceClose is reclamation's path: rollback, close, mark released.
func (l *Lease) forceClose() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	l.stopTimerLocked()
	if l.tx != nil {
		l.tx.Rollback()
		l.tx = nil
	}
	l.conn.Close()
	l.mu.Unlock()
}

func (l *Lease) stopTimerLocked() {
	if l.txTimer != nil {
		l.txTimer.Stop()
		l.txTimer = nil
	}
}
