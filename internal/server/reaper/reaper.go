// Package reaper retires expired nodes, consumed burn-after-download files and
// expired text snippets on a fixed interval.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"securelink/internal/server/metrics"
	"securelink/internal/server/node"
)

// Finder lists the nodes due for removal and purges expired snippets.
// *database.Repository satisfies it.
type Finder interface {
	FindExpired(ctx context.Context, now time.Time) ([]node.Node, error)
	FindBurnedAccessed(ctx context.Context) ([]*node.File, error)
	DeleteExpiredSnippets(ctx context.Context, now time.Time) (int64, error)
}

// Deleter removes a node with its subtree and blobs and reports the ids it
// removed. *filesystem.Engine satisfies it; deleting an absent node must
// succeed and report nothing.
type Deleter interface {
	DeleteTree(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
}

// Readiness reports whether the store can be swept. *database.DB satisfies it.
type Readiness interface {
	Ready(ctx context.Context) error
}

// Config controls the sweep schedule.
type Config struct {
	Interval       time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// SweepResult counts what one sweep did. Expired and Burned count listed
// nodes whose rows this sweep removed, including expired nodes that went with
// an expired ancestor.
type SweepResult struct {
	Expired  int
	Burned   int
	Snippets int
	Failed   int
}

// Reaper periodically removes nodes whose lifetime is over.
type Reaper struct {
	finder  Finder
	deleter Deleter
	ready   Readiness
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time

	mu   sync.Mutex // held for the duration of a sweep
	done chan struct{}
}

// New creates a new Reaper. m may be nil.
func New(finder Finder, deleter Deleter, ready Readiness, cfg Config, m *metrics.Metrics) *Reaper {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &Reaper{
		finder:  finder,
		deleter: deleter,
		ready:   ready,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

// Start waits for the store to become ready, sweeps once, and then sweeps
// every Interval until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	slog.Info("reaper started", "interval", r.cfg.Interval)

	go func() {
		defer close(r.done)

		if !r.waitReady(ctx) {
			slog.Info("reaper stopping before store became ready")
			return
		}

		// Run once immediately on start
		r.Sweep(ctx)

		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Sweep(ctx)
			case <-ctx.Done():
				slog.Info("reaper stopping")
				return
			}
		}
	}()
}

// Wait blocks until the reaper has fully stopped.
func (r *Reaper) Wait() {
	<-r.done
}

// waitReady polls Ready with exponential backoff. It returns false if ctx is
// cancelled first.
func (r *Reaper) waitReady(ctx context.Context) bool {
	backoff := r.cfg.InitialBackoff
	waiting := false

	for {
		err := r.ready.Ready(ctx)
		if err == nil {
			if waiting {
				slog.Info("store ready, reaper resuming")
			}
			return true
		}

		waiting = true
		slog.Warn("store not ready, reaper waiting", "retry_in", backoff, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false
		}

		backoff *= 2
		if backoff > r.cfg.MaxBackoff {
			backoff = r.cfg.MaxBackoff
		}
	}
}

// Sweep runs one pass: expired nodes first, then consumed burn files, then
// expired snippets. A failure on one node is logged and the pass moves on.
// Sweeps never overlap, and once started a sweep runs to completion even if
// ctx is cancelled.
func (r *Reaper) Sweep(ctx context.Context) SweepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	var res SweepResult
	listFailed := false

	slog.Info("running reaper sweep")

	expired, err := r.finder.FindExpired(ctx, r.now())
	if err != nil {
		slog.Error("failed to find expired nodes", "error", err)
		listFailed = true
	}
	due := make(map[uuid.UUID]node.Node, len(expired))
	for _, n := range expired {
		due[n.Base().ID] = n
	}
	removed := make(map[uuid.UUID]bool)

	for _, n := range expired {
		h := n.Base()
		if removed[h.ID] {
			continue
		}
		ids, err := r.deleter.DeleteTree(ctx, h.ID)
		for _, id := range ids {
			removed[id] = true
			gone, ok := due[id]
			if !ok {
				continue
			}
			r.metrics.RecordReap(metrics.ReasonExpired, nil)
			res.Expired++
			slog.Info("deleted expired node",
				"id", id,
				"kind", gone.Kind(),
				"name", gone.Base().Name,
				"expired_at", gone.Base().ExpiresAt,
			)
		}
		if err != nil {
			r.metrics.RecordReap(metrics.ReasonExpired, err)
			slog.Error("failed to delete expired node", "id", h.ID, "kind", n.Kind(), "error", err)
			res.Failed++
		}
	}

	burned, err := r.finder.FindBurnedAccessed(ctx)
	if err != nil {
		slog.Error("failed to find burned files", "error", err)
		listFailed = true
	}
	for _, f := range burned {
		if removed[f.ID] {
			continue
		}
		ids, err := r.deleter.DeleteTree(ctx, f.ID)
		if err != nil {
			r.metrics.RecordReap(metrics.ReasonBurned, err)
			slog.Error("failed to delete burned file", "id", f.ID, "error", err)
			res.Failed++
			continue
		}
		if len(ids) == 0 {
			continue
		}
		r.metrics.RecordReap(metrics.ReasonBurned, nil)
		res.Burned++
		slog.Info("deleted burned file", "id", f.ID, "name", f.Name)
	}

	snippets, err := r.finder.DeleteExpiredSnippets(ctx, r.now())
	if err != nil {
		slog.Error("failed to delete expired snippets", "error", err)
		listFailed = true
	}
	r.metrics.RecordReapedCount(metrics.ReasonSnippetExpired, snippets)
	res.Snippets = int(snippets)
	if snippets > 0 {
		slog.Info("deleted expired snippets", "count", snippets)
	}

	outcome := "ok"
	switch {
	case listFailed:
		outcome = "error"
	case res.Failed > 0:
		outcome = "partial"
	}
	r.metrics.RecordSweep(outcome, time.Since(start).Seconds())

	slog.Info("reaper sweep complete",
		"expired", res.Expired,
		"burned", res.Burned,
		"snippets", res.Snippets,
		"failed", res.Failed,
		"duration", time.Since(start),
	)
	return res
}
