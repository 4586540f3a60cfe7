package driver

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a rule file's declared source files and the rule file
// itself, and reports which rule names depend on a changed path.
type Watcher struct {
	fsw   *fsnotify.Watcher
	rules *RuleFile
}

// NewWatcher opens an fsnotify watch on rulesPath and every source file
// named by any rule in rules.
func NewWatcher(rulesPath string, rules *RuleFile) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("driver: create watcher: %w", err)
	}

	if err := fsw.Add(rulesPath); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("driver: watch rule file %s: %w", rulesPath, err)
	}
	for _, r := range rules.Rules {
		for _, s := range r.Sources {
			if err := fsw.Add(s); err != nil {
				_ = fsw.Close()
				return nil, fmt.Errorf("driver: watch source %s: %w", s, err)
			}
		}
	}

	return &Watcher{fsw: fsw, rules: rules}, nil
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Events returns a channel of rule names that need rebuilding, one batch
// per filesystem write/create event observed. Errors from the underlying
// watcher are sent on errs.
func (w *Watcher) Events() (<-chan []string, <-chan error) {
	affected := make(chan []string)
	errs := make(chan error)

	go func() {
		defer close(affected)
		defer close(errs)
		for {
			select {
			case ev, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				affected <- w.targetsFor(ev.Name)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				errs <- err
			}
		}
	}()

	return affected, errs
}

// targetsFor returns every rule that directly lists path as a source.
func (w *Watcher) targetsFor(path string) []string {
	var names []string
	for _, r := range w.rules.Rules {
		for _, s := range r.Sources {
			if s == path {
				names = append(names, r.Name)
				break
			}
		}
	}
	return names
}
