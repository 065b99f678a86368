package desktop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/byt3bl33d3r/figaro-sub000/pkg/retry"
	"github.com/byt3bl33d3r/figaro-sub000/pkg/telemetry"
)

const (
	defaultIdleTTL       = 5 * time.Minute
	defaultSweepInterval = time.Minute
)

type poolEntry struct {
	conn     Conn
	inUse    bool
	lastUsed time.Time
}

// Pool caches remote-desktop sessions keyed by address+credentials. One
// cached session exists per key; a second concurrent caller gets a fresh
// ephemeral session that is closed on release instead of pooled, so no
// caller ever waits on another's lease.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*poolEntry

	dialers Dialers
	idleTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

func WithIdleTTL(d time.Duration) PoolOption { return func(p *Pool) { p.idleTTL = d } }
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

func NewPool(dialers Dialers, opts ...PoolOption) *Pool {
	p := &Pool{
		entries: make(map[string]*poolEntry),
		dialers: dialers,
		idleTTL: defaultIdleTTL,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Lease is a scoped checkout of a session. Callers must Release it and must
// not hold it across unbounded waits.
type Lease struct {
	Conn      Conn
	key       string
	ephemeral bool
	pool      *Pool
}

// Release returns the session to the pool, or closes it if it was an
// ephemeral overflow session.
func (l *Lease) Release() {
	l.pool.release(l)
}

func poolKey(addr, creds string) string { return addr + "\x00" + creds }

// Acquire returns a leased session for the target, reusing the cached one
// when free and dialing otherwise. Dialing retries with backoff before
// giving up.
func (p *Pool) Acquire(ctx context.Context, addr, creds string) (*Lease, error) {
	key := poolKey(addr, creds)

	p.mu.Lock()
	if entry, ok := p.entries[key]; ok && !entry.inUse {
		entry.inUse = true
		p.mu.Unlock()
		return &Lease{Conn: entry.conn, key: key, pool: p}, nil
	}
	busy := false
	if entry, ok := p.entries[key]; ok && entry.inUse {
		busy = true
	}
	p.mu.Unlock()

	dialer, err := p.dialers.forAddr(addr)
	if err != nil {
		return nil, err
	}

	var conn Conn
	err = retry.Do(ctx, retry.Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		OnRetry: func(attempt int, dialErr error) {
			p.logger.Warn("desktop dial failed, retrying",
				slog.String("addr", addr),
				slog.Int("attempt", attempt),
				slog.String("error", dialErr.Error()),
			)
		},
	}, func() error {
		var dialErr error
		conn, dialErr = dialer(ctx, addr, creds)
		return dialErr
	})
	if err != nil {
		return nil, err
	}

	if busy {
		// Overflow session — never pooled.
		return &Lease{Conn: conn, key: key, ephemeral: true, pool: p}, nil
	}

	p.mu.Lock()
	p.entries[key] = &poolEntry{conn: conn, inUse: true, lastUsed: p.now()}
	telemetry.DesktopPoolSize.Set(float64(len(p.entries)))
	p.mu.Unlock()

	return &Lease{Conn: conn, key: key, pool: p}, nil
}

func (p *Pool) release(l *Lease) {
	if l.ephemeral {
		_ = l.Conn.Close()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.entries[l.key]; ok && entry.conn == l.Conn {
		entry.inUse = false
		entry.lastUsed = p.now()
	}
}

// Discard drops a session from the pool after a command failure so the next
// acquire dials fresh.
func (p *Pool) Discard(l *Lease) {
	_ = l.Conn.Close()
	if l.ephemeral {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.entries[l.key]; ok && entry.conn == l.Conn {
		delete(p.entries, l.key)
		telemetry.DesktopPoolSize.Set(float64(len(p.entries)))
	}
}

// Sweep runs the idle-eviction loop until ctx is cancelled.
func (p *Pool) Sweep(ctx context.Context) {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.CloseAll()
			return
		case <-ticker.C:
			p.evictIdle()
		}
	}
}

func (p *Pool) evictIdle() {
	cutoff := p.now().Add(-p.idleTTL)

	p.mu.Lock()
	var evicted []Conn
	for key, entry := range p.entries {
		if !entry.inUse && entry.lastUsed.Before(cutoff) {
			evicted = append(evicted, entry.conn)
			delete(p.entries, key)
		}
	}
	telemetry.DesktopPoolSize.Set(float64(len(p.entries)))
	p.mu.Unlock()

	for _, conn := range evicted {
		_ = conn.Close()
	}
	if len(evicted) > 0 {
		p.logger.Debug("evicted idle desktop sessions", slog.Int("count", len(evicted)))
	}
}

// CloseAll closes every cached session. Called on shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	var all []Conn
	for key, entry := range p.entries {
		all = append(all, entry.conn)
		delete(p.entries, key)
	}
	telemetry.DesktopPoolSize.Set(0)
	p.mu.Unlock()

	for _, conn := range all {
		_ = conn.Close()
	}
}

// Size returns the number of cached sessions.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// SetClock overrides the time source. Tests only.
func (p *Pool) SetClock(now func() time.Time) { p.now = now }
