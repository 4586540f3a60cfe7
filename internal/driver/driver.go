// Package driver wires the dependency database (component C5) together
// with a concrete rule-file interpretation, recipe executor, worker pool,
// file lock, and progress reporter into the end-to-end build loop the CLI
// drives (component C6). None of this package's semantics are part of the
// database's contract: request/block/ready is generic, driver decides what
// a key named by a string actually means.
package driver

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/depdb/internal/database"
	"github.com/steveyegge/depdb/internal/lockfile"
	"github.com/steveyegge/depdb/internal/model"
)

// userVersion is depdb's own schema version, stamped into every journal and
// snapshot this package writes. Bump it whenever Rule or the key/value
// encodings registered in NewTable change shape.
const userVersion = 1

// Options configures Open.
type Options struct {
	// DatabasePath is the path prefix passed to database.Open; the actual
	// files are DatabasePath+".database" and DatabasePath+".journal".
	DatabasePath string
	// RulesPath is the TOML rule file to load.
	RulesPath string
	// Jobs bounds concurrent recipe executions; 0 means unbounded.
	Jobs int
	// Progress receives Execute/Block/Ready/Failed notifications. If nil,
	// NewProgress(os.Stdout) is used.
	Progress *Progress
}

// Driver is an open build session: a locked database directory, a loaded
// rule file, and the executor/pool/progress machinery Build and Watch use.
type Driver struct {
	db       *database.Database
	lock     *lockfile.Lock
	rules    *RuleFile
	executor *Executor
	pool     int
	progress *Progress
}

// Open acquires an exclusive lock on opts.DatabasePath+".lock", opens the
// dependency database, and loads the rule file. The lock is released by
// Close; if Open fails partway through, everything it already acquired is
// released before returning.
func Open(opts Options) (*Driver, error) {
	lock, err := lockfile.Acquire(opts.DatabasePath + ".lock")
	if err != nil {
		return nil, fmt.Errorf("driver: acquire lock: %w", err)
	}

	db, err := database.Open(opts.DatabasePath, userVersion, NewTable())
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("driver: open database: %w", err)
	}

	rules, err := LoadRuleFile(opts.RulesPath)
	if err != nil {
		_ = db.Close()
		_ = lock.Release()
		return nil, fmt.Errorf("driver: load rules: %w", err)
	}

	progress := opts.Progress
	if progress == nil {
		progress = NewProgress(os.Stdout)
	}

	return &Driver{
		db:       db,
		lock:     lock,
		rules:    rules,
		executor: NewExecutor(rules),
		pool:     opts.Jobs,
		progress: progress,
	}, nil
}

// Close writes the final snapshot and releases the directory lock. The
// database is closed first so the lock is held for the whole durability
// window.
func (d *Driver) Close() error {
	dbErr := d.db.Close()
	lockErr := d.lock.Release()
	if dbErr != nil {
		return fmt.Errorf("driver: close database: %w", dbErr)
	}
	if lockErr != nil {
		return fmt.Errorf("driver: release lock: %w", lockErr)
	}
	return nil
}

// Entries reports every key the database currently holds durable
// information for, keyed by its depdb key (a rule name or "file:" source
// key). Used by the status command; not part of the build loop.
func (d *Driver) Entries() map[model.Key]model.Info {
	return d.db.Entries()
}

// validStored answers database's ValidStored callback for driver's key
// space: a "file:" key is valid exactly when the file still exists and its
// mtime still matches the recorded value; any other key (a rule) is always
// taken as valid, since rules have no independent staleness signal besides
// the dependency-time comparison database itself already performs.
func validStored(k model.Key, v model.Value) bool {
	name, ok := k.(string)
	if !ok || !isSourceKey(name) {
		return true
	}
	info, err := os.Stat(sourcePath(name))
	if err != nil {
		return false
	}
	recorded, ok := v.(int64)
	if !ok {
		return false
	}
	return info.ModTime().UnixNano() == recorded
}

// Build resolves targets to completion: repeatedly calling Request,
// executing whatever keys come back as Execute (in parallel, bounded by
// d.pool), waiting on Block responses, until every target reports Ready.
// It returns one value per target, in the order given.
func (d *Driver) Build(ctx context.Context, targets []string) ([]model.Value, error) {
	keys := make([]model.Key, len(targets))
	for i, t := range targets {
		keys[i] = t
	}

	for {
		resp := d.request(ctx, keys)
		switch resp.Kind {
		case database.Ready:
			return resp.Values, nil
		case database.Block:
			waitCounter.Add(ctx, 1)
			for _, k := range keys {
				if name, ok := k.(string); ok {
					d.progress.Blocked(name)
				}
			}
			if err := resp.Wait(ctx); err != nil {
				return nil, fmt.Errorf("driver: wait: %w", err)
			}
		case database.Execute:
			if err := d.executeAll(ctx, resp.Keys); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("driver: unrecognized response kind %v", resp.Kind)
		}
	}
}

// request wraps one Database.Request call in a depdb.request span, with an
// event per requested key, each tagged with the kind of the whole
// response (per-key outcomes are not broken out). Request
// itself is a generic, I/O-free map traversal (component C5, spec.md
// §4.5.2); the span lives here because depdb's telemetry instruments are
// all driver-layer (component C6), not because Request has its own
// tracing contract to uphold.
func (d *Driver) request(ctx context.Context, keys []model.Key) database.Response {
	ctx, span := tracer.Start(ctx, "depdb.request", trace.WithAttributes(
		attribute.Int("depdb.keys.count", len(keys)),
	))
	defer span.End()

	resp := d.db.Request(validStored, keys)

	kind := responseKindName(resp.Kind)
	for _, k := range keys {
		name, _ := k.(string)
		span.AddEvent("depdb.key.resolved", trace.WithAttributes(
			attribute.String("depdb.key", name),
			attribute.String("depdb.response", kind),
		))
	}
	if resp.Kind == database.Execute {
		span.SetAttributes(attribute.Int("depdb.execute.count", len(resp.Keys)))
	}
	return resp
}

func responseKindName(k database.ResponseKind) string {
	switch k {
	case database.Execute:
		return "execute"
	case database.Block:
		return "block"
	case database.Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// executeAll runs every key in keys through the executor, bounded by
// d.pool, reporting each outcome to Finished and to progress.
func (d *Driver) executeAll(ctx context.Context, keys []model.Key) error {
	for _, k := range keys {
		if name, ok := k.(string); ok {
			d.progress.Executing(name)
		}
	}

	return RunPool(ctx, d.pool, keys, func(ctx context.Context, k model.Key) error {
		name, _ := k.(string)

		res, err := d.executor.Execute(ctx, k)
		if err != nil {
			d.progress.Failed(name, err)
			return err
		}

		start := time.Now()
		err = d.db.Finished(k, res.Value, res.Depends, res.Duration, res.Traces)
		appendLatencyMs.Record(ctx, float64(time.Since(start).Microseconds())/1000)
		if err != nil {
			d.progress.Failed(name, err)
			return fmt.Errorf("driver: record %q finished: %w", name, err)
		}
		d.progress.Ready(name)
		return nil
	})
}

// Watch builds targets once, then rebuilds whichever targets are affected
// whenever one of their declared source files changes, until ctx is
// cancelled. It never returns a nil error on its own; callers stop it by
// cancelling ctx, which yields ctx.Err().
func (d *Driver) Watch(ctx context.Context, targets []string) error {
	if _, err := d.Build(ctx, targets); err != nil {
		return err
	}

	w, err := NewWatcher(d.rulesPathHint(), d.rules)
	if err != nil {
		return fmt.Errorf("driver: watch: %w", err)
	}
	defer func() { _ = w.Close() }()

	affected, errs := w.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case names, ok := <-affected:
			if !ok {
				return fmt.Errorf("driver: watcher closed unexpectedly")
			}
			if len(names) == 0 {
				continue
			}
			if _, err := d.Build(ctx, names); err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				return fmt.Errorf("driver: watcher closed unexpectedly")
			}
			return fmt.Errorf("driver: watch: %w", err)
		}
	}
}

// rulesPathHint recovers the rule file path originally passed to Open, for
// NewWatcher's use, from the path RuleFile recorded when it was loaded.
func (d *Driver) rulesPathHint() string {
	return d.rules.path
}
