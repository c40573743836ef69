// Package retention bounds disk usage of the artifact storage roots.
//
// A sweep makes two passes over every root. The first deletes entries that are too old
// or too large on their own; the second evicts the least recently modified entries of a
// root until its aggregate size fits the quota. Staging files of writes in progress are
// left alone and never count toward a quota; once older than the staging grace period
// they are treated as orphans of an interrupted write and deleted. Deletion is
// best-effort: failures are logged and counted, never returned.
package retention

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/onnwee/chatlens/store"
	"github.com/onnwee/chatlens/telemetry"
)

const bytesPerMB = 1024 * 1024

// stagingGrace is how long a staging file may sit untouched before it is an orphan.
const stagingGrace = time.Hour

// Policy holds the retention thresholds. A non-positive threshold disables its rule.
type Policy struct {
	Roots []string
	// MaxAgeDays: entries last modified longer ago than this are deleted.
	MaxAgeDays int
	// MaxEntrySizeMB: entries larger than this are deleted.
	MaxEntrySizeMB float64
	// MaxRootQuotaMB: aggregate size permitted per root.
	MaxRootQuotaMB float64
	// DryRun: log decisions but delete nothing.
	DryRun bool
}

// DefaultPolicy returns the thresholds used when nothing is configured.
func DefaultPolicy(roots ...string) Policy {
	return Policy{Roots: roots, MaxAgeDays: 30, MaxEntrySizeMB: 500, MaxRootQuotaMB: 5000}
}

// Report summarizes one sweep.
type Report struct {
	Deleted    int   `json:"deleted"`
	Failed     int   `json:"failed"`
	BytesFreed int64 `json:"bytes_freed"`
}

// Manager runs sweeps for a policy.
type Manager struct {
	policy Policy
	grace  time.Duration
	now    func() time.Time
	remove func(string) error
	logger *slog.Logger
}

// NewManager returns a Manager for the given policy.
func NewManager(policy Policy) *Manager {
	return &Manager{
		policy: policy,
		grace:  stagingGrace,
		now:    time.Now,
		remove: os.Remove,
		logger: slog.Default().With(slog.String("component", "retention")),
	}
}

// Policy returns the thresholds this manager enforces.
func (m *Manager) Policy() Policy { return m.policy }

type entry struct {
	path    string
	size    int64
	modTime time.Time
	staging bool
}

// Sweep runs both passes over every root and reports what was reclaimed.
// Decisions use a snapshot of file metadata taken when each root is scanned.
func (m *Manager) Sweep(ctx context.Context) Report {
	var rep Report
	start := time.Now()
	logger := m.logger.With(slog.Bool("dry_run", m.policy.DryRun))

	for _, root := range m.policy.Roots {
		if ctx.Err() != nil {
			logger.Info("retention sweep interrupted", slog.Any("err", ctx.Err()))
			break
		}
		entries, err := scan(root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Debug("retention root missing, skipping", slog.String("root", root))
			} else {
				logger.Warn("retention root scan failed", slog.String("root", root), slog.Any("err", err))
			}
			continue
		}
		entries = m.sweepStaging(logger, entries, &rep)
		remaining := m.sweepEntries(logger, entries, &rep)
		m.enforceQuota(logger, root, remaining, &rep)
	}

	telemetry.RetentionSwept(rep.Deleted, rep.Failed, rep.BytesFreed)
	if telemetry.SweepDuration != nil {
		telemetry.SweepDuration.Observe(time.Since(start).Seconds())
	}
	logger.Info("retention sweep completed",
		slog.Int("deleted", rep.Deleted),
		slog.Int("failed", rep.Failed),
		slog.Int64("bytes_freed", rep.BytesFreed),
		slog.Duration("took", time.Since(start)))
	return rep
}

// sweepStaging deletes orphaned staging files and returns the published entries.
func (m *Manager) sweepStaging(logger *slog.Logger, entries []entry, rep *Report) []entry {
	now := m.now()
	published := entries[:0]
	for _, e := range entries {
		switch {
		case !e.staging:
			published = append(published, e)
		case now.Sub(e.modTime) > m.grace:
			m.delete(logger, e, "orphan", rep)
		default:
			logger.Debug("skipping in-flight staging file", slog.String("path", e.path))
		}
	}
	return published
}

// sweepEntries applies the per-entry age and size rules and returns the survivors.
func (m *Manager) sweepEntries(logger *slog.Logger, entries []entry, rep *Report) []entry {
	now := m.now()
	maxAge := time.Duration(m.policy.MaxAgeDays) * 24 * time.Hour
	remaining := entries[:0]
	for _, e := range entries {
		var reason string
		switch {
		case m.policy.MaxAgeDays > 0 && now.Sub(e.modTime) > maxAge:
			reason = "age"
		case m.policy.MaxEntrySizeMB > 0 && float64(e.size)/bytesPerMB > m.policy.MaxEntrySizeMB:
			reason = "size"
		}
		if reason == "" {
			remaining = append(remaining, e)
			continue
		}
		if !m.delete(logger, e, reason, rep) {
			remaining = append(remaining, e)
		}
	}
	return remaining
}

// enforceQuota evicts the oldest-modified entries until the root fits its quota.
// An entry that cannot be deleted still occupies space, so eviction moves on to the next oldest.
func (m *Manager) enforceQuota(logger *slog.Logger, root string, entries []entry, rep *Report) {
	if m.policy.MaxRootQuotaMB <= 0 {
		return
	}
	var total int64
	for _, e := range entries {
		total += e.size
	}
	quota := int64(m.policy.MaxRootQuotaMB * bytesPerMB)
	if total <= quota {
		return
	}
	logger.Info("retention root over quota",
		slog.String("root", root),
		slog.Float64("size_mb", float64(total)/bytesPerMB),
		slog.Float64("quota_mb", m.policy.MaxRootQuotaMB))

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].modTime.Before(entries[j].modTime) })
	for _, e := range entries {
		if total <= quota {
			break
		}
		if m.delete(logger, e, "quota", rep) {
			total -= e.size
		}
	}
}

func (m *Manager) delete(logger *slog.Logger, e entry, reason string, rep *Report) bool {
	l := logger.With(slog.String("path", e.path), slog.String("reason", reason), slog.Int64("size", e.size))
	if m.policy.DryRun {
		l.Info("dry run: would delete entry")
		rep.Deleted++
		rep.BytesFreed += e.size
		return true
	}
	if err := m.remove(e.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Removed by a concurrent sweep.
			l.Debug("entry already gone")
			return true
		}
		l.Warn("failed to delete entry", slog.Any("err", err))
		rep.Failed++
		return false
	}
	l.Info("deleted entry")
	rep.Deleted++
	rep.BytesFreed += e.size
	return true
}

// scan lists the regular files below root, sorted by path, flagging store staging files.
func scan(root string) ([]entry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "scan", Path: root, Err: errors.New("not a directory")}
	}
	var entries []entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			slog.Warn("retention walk error", slog.String("path", path), slog.Any("err", err))
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			// Vanished between listing and stat.
			return nil
		}
		entries = append(entries, entry{path: path, size: fi.Size(), modTime: fi.ModTime(), staging: store.IsTempName(d.Name())})
		return nil
	})
	return entries, err
}
