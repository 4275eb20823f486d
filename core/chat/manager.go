package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mudler/genstudio/core/persistence"
	"github.com/mudler/xlog"
	"github.com/robfig/cron/v3"
)

const keyPrefix = "chat:"

// Manager hands out the Store of each owner, hydrating it on first use.
type Manager struct {
	mu        sync.RWMutex
	stores    map[string]*Store
	persister persistence.Store
	opts      Options

	cron *cron.Cron
}

func NewManager(persister persistence.Store, opts Options) *Manager {
	return &Manager{
		stores:    make(map[string]*Store),
		persister: persister,
		opts:      opts,
	}
}

// StateKey is the persistence key of an owner's timeline.
func StateKey(owner string) string {
	return keyPrefix + owner
}

// For returns the store of an owner.
func (m *Manager) For(ctx context.Context, owner string) (*Store, error) {
	m.mu.RLock()
	s, ok := m.stores[owner]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[owner]; ok {
		return s, nil
	}
	s, err := Open(ctx, m.persister, StateKey(owner), m.opts)
	if err != nil {
		return nil, err
	}
	m.stores[owner] = s
	return s, nil
}

// Owners lists owners with a loaded or persisted timeline.
func (m *Manager) Owners(ctx context.Context) []string {
	seen := map[string]bool{}
	m.mu.RLock()
	for o := range m.stores {
		seen[o] = true
	}
	m.mu.RUnlock()

	if l, ok := m.persister.(persistence.Lister); ok {
		keys, err := l.Keys(ctx)
		if err != nil {
			xlog.Warn("Cannot list persisted chat states", "error", err)
		}
		for _, k := range keys {
			if strings.HasPrefix(k, keyPrefix) {
				seen[strings.TrimPrefix(k, keyPrefix)] = true
			}
		}
	}

	owners := make([]string, 0, len(seen))
	for o := range seen {
		owners = append(owners, o)
	}
	return owners
}

// Prune drops, for every owner, the sessions idle since before cutoff.
func (m *Manager) Prune(ctx context.Context, cutoff time.Time) int {
	total := 0
	for _, owner := range m.Owners(ctx) {
		s, err := m.For(ctx, owner)
		if err != nil {
			xlog.Warn("Cannot open chat state for pruning", "owner", owner, "error", err)
			continue
		}
		total += s.PruneIdle(cutoff)
	}
	return total
}

// StartRetention schedules Prune on a cron spec, dropping sessions idle for
// more than days. A zero retention disables it.
func (m *Manager) StartRetention(schedule string, days int) error {
	if days <= 0 {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
		if n := m.Prune(context.Background(), cutoff); n > 0 {
			xlog.Info("Pruned idle chat sessions", "count", n, "retention_days", days)
		}
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()
	c.Start()
	xlog.Debug("Chat retention scheduled", "schedule", schedule, "days", days)
	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
