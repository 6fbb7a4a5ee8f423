// SPDX-License-Identifier: MPL-2.0

// Package watch reports changes to the files behind a realm graph.
//
// A Watcher monitors a set of targets (the graph file itself and the archives
// and directories on realm classpaths) and invokes a callback after a quiet
// period. Events within the debounce window are coalesced so the callback
// fires once with the full set of changed paths.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/invowk/realmbridge/internal/realm"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is the delay before firing the callback after the last
// filesystem event. Archive writers usually emit several events per file.
const defaultDebounce = 500 * time.Millisecond

// defaultIgnores are excluded inside watched directories regardless of
// user-supplied patterns.
var defaultIgnores = []string{
	"**/.git/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.DS_Store",
}

var (
	// ErrNoTargets is returned by New when there is nothing to watch.
	ErrNoTargets = errors.New("watch: no targets")
	// ErrInvalidPattern is returned by New for a malformed ignore pattern.
	ErrInvalidPattern = errors.New("watch: invalid ignore pattern")
	// ErrAlreadyRunning is returned when Run is called a second time.
	ErrAlreadyRunning = errors.New("watch: Run called more than once")
)

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Targets are files or directories. A file is watched through its
		// parent directory and only its own events count; it may not exist
		// yet. A directory is watched recursively.
		Targets []string

		// Ignore are doublestar patterns, matched against slash-separated
		// paths relative to a watched directory, for changes that should
		// never trigger the callback. They are merged with the defaults.
		Ignore []string

		// Debounce is the quiet period after the last event before the callback
		// fires. Zero or negative values fall back to defaultDebounce.
		Debounce time.Duration

		// OnChange is called with the sorted absolute paths that changed.
		// A nil callback is a no-op.
		OnChange func(ctx context.Context, changed []string) error

		// Logger receives watcher diagnostics. nil discards them.
		Logger *log.Logger
	}

	// InvalidPatternError reports a malformed ignore pattern.
	// It wraps ErrInvalidPattern for errors.Is() compatibility.
	InvalidPatternError struct {
		Pattern string
	}

	// Watcher monitors targets and fires a debounced callback when they
	// change. Run must be called exactly once.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		logger   *log.Logger
		files    map[string]bool
		roots    []string
		ignores  []string
		debounce time.Duration
		started  atomic.Bool
	}
)

// Error implements the error interface for InvalidPatternError.
func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("%s %q", ErrInvalidPattern, e.Pattern)
}

// Unwrap returns ErrInvalidPattern for errors.Is() compatibility.
func (e *InvalidPatternError) Unwrap() error { return ErrInvalidPattern }

// GraphTargets returns the graph file and every classpath entry of every
// realm in g, deduplicated, in declaration order.
func GraphTargets(graphPath string, g *realm.Graph) []string {
	seen := make(map[string]bool)
	var targets []string
	add := func(p string) {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !seen[p] {
			seen[p] = true
			targets = append(targets, p)
		}
	}

	add(graphPath)
	if g != nil {
		for _, r := range g.Realms() {
			for _, entry := range r.Classpath() {
				add(entry)
			}
		}
	}
	return targets
}

// New creates a Watcher and registers every target with fsnotify.
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Targets) == 0 {
		return nil, ErrNoTargets
	}
	for _, pat := range cfg.Ignore {
		if !doublestar.ValidatePattern(pat) {
			return nil, &InvalidPatternError{Pattern: pat}
		}
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		logger:   logger,
		files:    make(map[string]bool),
		ignores:  slices.Concat(defaultIgnores, cfg.Ignore),
		debounce: debounce,
	}

	if err := w.addTargets(); err != nil {
		if closeErr := fsw.Close(); closeErr != nil {
			logger.Warn("close after init failure", "error", closeErr)
		}
		return nil, err
	}
	return w, nil
}

// Run blocks until ctx is cancelled, processing filesystem events and
// dispatching debounced callbacks. It returns nil on cancellation and
// propagates fatal watcher errors.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	// fire may be scheduled by time.AfterFunc after ctx is cancelled.
	// A callback still running when the timer fires again is not re-entered;
	// the timer is rearmed so pending paths are not lost.
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			w.logger.Debug("callback still running, deferring")
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()

		if w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				w.logger.Error("change callback failed", "error", err)
			}
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if closeErr := w.fsw.Close(); closeErr != nil {
			w.logger.Warn("close fsnotify", "error", closeErr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed unexpectedly")
			}
			if !w.relevant(evt.Name) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(evt.Name)
			}

			w.logger.Debug("change", "path", evt.Name, "op", evt.Op.String())
			mu.Lock()
			pending[evt.Name] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed unexpectedly")
			}
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

// addTargets registers file targets through their parent directory and
// directory targets recursively.
func (w *Watcher) addTargets() error {
	parents := make(map[string]bool)
	for _, target := range w.cfg.Targets {
		abs, err := filepath.Abs(target)
		if err != nil {
			return fmt.Errorf("watch: resolve %q: %w", target, err)
		}

		info, err := os.Stat(abs)
		if err == nil && info.IsDir() {
			w.roots = append(w.roots, abs)
			if err := w.addTree(abs); err != nil {
				return err
			}
			continue
		}

		w.files[abs] = true
		dir := filepath.Dir(abs)
		if parents[dir] {
			continue
		}
		parents[dir] = true
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", dir, err)
		}
	}
	return nil
}

// addTree adds root and every non-ignored directory below it.
func (w *Watcher) addTree(root string) error {
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, walkDirErr error) error {
		if walkDirErr != nil {
			w.logger.Warn("skipping inaccessible path", "path", path, "error", walkDirErr)
			return nil //nolint:nilerr // inaccessible directories are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(root, path); relErr == nil && rel != "." && (matchAny(w.ignores, rel) || matchAny(w.ignores, rel+"/")) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, err)
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("watch: walk %q: %w", root, walkErr)
	}
	return nil
}

// maybeAddDir extends recursive watches to directories created after startup.
func (w *Watcher) maybeAddDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if _, ok := w.rootOf(path); !ok {
		return
	}
	if err := w.addTree(path); err != nil {
		w.logger.Warn("add new directory", "path", path, "error", err)
	}
}

// relevant reports whether an event on path concerns a target.
func (w *Watcher) relevant(path string) bool {
	if w.files[path] {
		return true
	}
	root, ok := w.rootOf(path)
	if !ok {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return !matchAny(w.ignores, rel)
}

// rootOf returns the recursive target that contains path.
func (w *Watcher) rootOf(path string) (string, bool) {
	for _, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root, true
		}
	}
	return "", false
}

// matchAny reports whether rel, relative to a watched directory, matches
// one of patterns.
func matchAny(patterns []string, rel string) bool {
	normalized := filepath.ToSlash(rel)
	for _, pat := range patterns {
		if matched, err := doublestar.Match(pat, normalized); err == nil && matched {
			return true
		}
	}
	return false
}

// DefaultIgnores returns a copy of the built-in ignore patterns.
func DefaultIgnores() []string {
	return slices.Clone(defaultIgnores)
}
