package driver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/depdb/internal/model"
)

// recipeMaxElapsed bounds how long a single recipe's retry loop may run
// before giving up.
const recipeMaxElapsed = 30 * time.Second

func newRecipeBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = recipeMaxElapsed
	return bo
}

// Result is one completed key's outcome: the value to record, the
// dependency group observed while producing it, and profiling data.
type Result struct {
	Value    model.Value
	Depends  []model.DepGroup
	Duration float64
	Traces   []model.Trace
}

// Executor runs a single depdb key to completion: a stat for a "file:"
// source key, or a retried os/exec invocation for a rule key.
type Executor struct {
	rules *RuleFile
}

// NewExecutor builds an Executor against a parsed rule file.
func NewExecutor(rules *RuleFile) *Executor {
	return &Executor{rules: rules}
}

// Execute runs key and returns its Result. A "file:" key is a leaf: its
// value is the file's modification time. Any other key must name a rule;
// its command is retried with bounded exponential backoff before being
// reported as a permanent failure.
func (e *Executor) Execute(ctx context.Context, key model.Key) (Result, error) {
	name, ok := key.(string)
	if !ok {
		return Result{}, fmt.Errorf("driver: non-string key %v (%T)", key, key)
	}

	ctx, span := tracer.Start(ctx, "depdb.execute", trace.WithAttributes(
		attribute.String("depdb.key", name),
	))
	defer span.End()

	start := time.Now()
	var res Result
	var err error
	if isSourceKey(name) {
		res, err = e.executeSource(sourcePath(name))
	} else {
		res, err = e.executeRule(ctx, name)
	}
	res.Duration = time.Since(start).Seconds()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	executionCounter.Add(ctx, 1, metricAttrs(name, err == nil))
	return res, err
}

func (e *Executor) executeSource(path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("driver: stat source %s: %w", path, err)
	}
	return Result{Value: info.ModTime().UnixNano()}, nil
}

func (e *Executor) executeRule(ctx context.Context, name string) (Result, error) {
	rule, ok := e.rules.Rule(name)
	if !ok {
		return Result{}, fmt.Errorf("driver: no rule named %q", name)
	}
	if len(rule.Command) == 0 {
		return Result{}, fmt.Errorf("driver: rule %q has no command", name)
	}

	group := e.rules.depGroup(rule)
	var digest string
	attempts := 0

	runErr := backoff.Retry(func() error {
		attempts++
		out, err := exec.CommandContext(ctx, rule.Command[0], rule.Command[1:]...).CombinedOutput()
		if err != nil {
			if _, isExit := err.(*exec.ExitError); isExit {
				return err // transient-looking recipe failure: retry
			}
			return backoff.Permanent(err) // command couldn't even start
		}
		sum := sha256.Sum256(out)
		digest = hex.EncodeToString(sum[:])
		return nil
	}, backoff.WithContext(newRecipeBackoff(), ctx))

	if runErr != nil {
		return Result{}, fmt.Errorf("driver: rule %q: %w (after %d attempt(s))", name, runErr, attempts)
	}

	return Result{
		Value:   digest,
		Depends: []model.DepGroup{model.DepGroup(group)},
		Traces:  []model.Trace{{Label: name, Start: 0, End: 0}},
	}, nil
}
