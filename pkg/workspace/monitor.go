package workspace

import (
	"context"
	"sort"
	"time"

	"github.com/oneconcern/vaultsync/pkg/errors"
	"github.com/oneconcern/vaultsync/pkg/manifest"
	"github.com/oneconcern/vaultsync/pkg/status"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ErrMonitorRunning indicates that the monitor loop is already started
var ErrMonitorRunning = errors.New("monitor already running")

// Monitor keeps a workspace synchronized: it uploads local changes and merges
// remote ones, polling the remote store periodically or when notified.
type Monitor struct {
	w          *Workspace
	interval   time.Duration
	notify     <-chan struct{}
	checkpoint atomic.Uint64
	running    atomic.Bool
}

// MonitorOption customizes a monitor
type MonitorOption func(*Monitor)

// PollInterval sets the period of the monitor when no notification is received
func PollInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// Notifications wakes the monitor up whenever the remote store signals a change
func Notifications(ch <-chan struct{}) MonitorOption {
	return func(m *Monitor) {
		m.notify = ch
	}
}

// NewMonitor builds a monitor for the workspace
func (w *Workspace) NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		w:        w,
		interval: w.pollInterval,
	}
	for _, apply := range opts {
		apply(m)
	}
	return m
}

// Checkpoint is the position of the monitor in the change log of the realm
func (m *Monitor) Checkpoint() uint64 {
	return m.checkpoint.Load()
}

// Run loops until the context is cancelled.
//
// Each round synchronizes the local changes, then the entries changed remotely.
// A backend failure is logged and retried at the next round.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrMonitorRunning
	}
	defer m.running.Store(false)

	ticker := m.w.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		dirty := m.w.dirty
		if err := m.Round(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, status.ErrBackendUnavailable) {
				m.w.l.Error("monitor round failed", zap.Error(err), zap.Uint64("checkpoint", m.checkpoint.Load()))
			} else {
				m.w.l.Warn("remote store unavailable", zap.Error(err))
			}
			// pending entries wait for the next tick
			dirty = nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		case <-m.notify:
		case id := <-dirty:
			// push back for the next round
			m.w.markDirty(id)
		}
	}
}

// Round runs a single monitor iteration
func (m *Monitor) Round(ctx context.Context) error {
	if err := m.SyncLocalChanges(ctx); err != nil {
		return err
	}
	return m.Poll(ctx)
}

// SyncLocalChanges synchronizes the entries modified locally since the last round
func (m *Monitor) SyncLocalChanges(ctx context.Context) error {
	if m.w.dirtyOverflow.CompareAndSwap(true, false) {
		m.drain()
		if err := m.w.Sync(ctx, m.w.root, true); err != nil {
			m.w.dirtyOverflow.Store(true)
			return err
		}
		return nil
	}
	ids := m.drain()
	for i, id := range ids {
		if err := m.w.Sync(ctx, id, false); err != nil {
			// the entries not synchronized yet are retried at the next round
			m.w.markDirty(ids[i:]...)
			return err
		}
	}
	return nil
}

func (m *Monitor) drain() []manifest.EntryID {
	seen := make(map[manifest.EntryID]struct{})
	for {
		select {
		case id := <-m.w.dirty:
			seen[id] = struct{}{}
		default:
			return sortedIDs(seen)
		}
	}
}

// Poll merges the entries changed remotely since the last checkpoint.
//
// Entries unknown locally are skipped: they are fetched when first accessed.
func (m *Monitor) Poll(ctx context.Context) error {
	checkpoint, changes, err := m.w.tx.PollChanges(ctx, m.checkpoint.Load())
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		m.checkpoint.Store(checkpoint)
		return nil
	}

	ids := make(map[manifest.EntryID]struct{}, len(changes))
	for id := range changes {
		ids[id] = struct{}{}
	}
	for _, id := range sortedIDs(ids) {
		if err = m.w.Sync(ctx, id, false); err != nil {
			return err
		}
	}
	m.w.l.Debug("remote changes merged", zap.Int("entries", len(changes)), zap.Uint64("checkpoint", checkpoint))
	m.checkpoint.Store(checkpoint)
	return nil
}

func sortedIDs(set map[manifest.EntryID]struct{}) []manifest.EntryID {
	ids := make([]manifest.EntryID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
