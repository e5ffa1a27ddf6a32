// Package watch reports changes to the user configuration tree so pending
// differences can be previewed while files are being edited.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDelay is how long the watcher waits for a burst of events to settle.
const DefaultDelay = 300 * time.Millisecond

// DefaultExtensions are the file types that trigger a callback.
var DefaultExtensions = []string{".toml", ".rego", ".yaml"}

// Options tunes a Watcher.
type Options struct {
	Delay      time.Duration
	Extensions []string
}

// Watcher debounces fsnotify events over one or more directory trees.
type Watcher struct {
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger
	delay      time.Duration
	extensions []string
}

// New creates a watcher. Call Add before Run.
func New(logger zerolog.Logger, opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	return &Watcher{
		watcher:    fw,
		logger:     logger.With().Str("component", "watch").Logger(),
		delay:      opts.Delay,
		extensions: opts.Extensions,
	}, nil
}

// Add watches every directory under each root. Missing roots are skipped
// with a warning.
func (w *Watcher) Add(roots ...string) error {
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", root).Msg("Failed to stat path for watching")
			continue
		}
		if !info.IsDir() {
			if err := w.watcher.Add(root); err != nil {
				return fmt.Errorf("failed to watch %s: %w", root, err)
			}
			continue
		}
		if err := w.addTree(root); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Run delivers batches of changed files to onChange until ctx is done.
// Callbacks run on the calling goroutine, one at a time.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, changed []string)) error {
	defer w.watcher.Close()

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.delay)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
					}
					continue
				}
			}
			if !w.relevant(event) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Configuration file changed")

			pending[event.Name] = struct{}{}
			timer.Reset(w.delay)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for name := range pending {
				changed = append(changed, name)
			}
			sort.Strings(changed)
			pending = make(map[string]struct{})
			onChange(ctx, changed)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// Close stops the watcher without running it.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	for _, ext := range w.extensions {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}
	return false
}
