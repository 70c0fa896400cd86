package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/erbview/internal/logging"
)

// Expirer drops cached templates read from a file.
type Expirer interface {
	Expire(path string) int
}

// Invalidator expires cached templates whose files change.
type Invalidator struct {
	expirer Expirer
	logger  logging.Logger
}

// NewInvalidator creates an Invalidator.
func NewInvalidator(expirer Expirer, logger logging.Logger) *Invalidator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Invalidator{expirer: expirer, logger: logger.WithComponent("invalidator")}
}

// Handle expires every changed path. It implements Handler.
func (i *Invalidator) Handle(events []ChangeEvent) error {
	ctx := context.Background()
	for _, event := range events {
		n := i.expirer.Expire(event.Path)
		i.logger.Debug(ctx, "Template file changed",
			"path", event.Path, "change", event.Type.String(), "expired", n)
	}
	return nil
}

// Watch watches dirs for changes to files with one of exts and expires the
// matching templates until ctx is done. The returned watcher must be stopped.
func (i *Invalidator) Watch(ctx context.Context, delay time.Duration, exts []string, dirs ...string) (*FileWatcher, error) {
	fw, err := NewFileWatcher(delay, i.logger)
	if err != nil {
		return nil, err
	}
	fw.AddFilter(NoHiddenFilter)
	fw.AddFilter(ExtensionFilter(exts...))
	fw.AddHandler(i.Handle)

	for _, dir := range dirs {
		if err := fw.AddRecursive(dir); err != nil {
			fw.Stop()
			return nil, err
		}
	}
	fw.Start(ctx)
	return fw, nil
}

// ExtensionFilter accepts paths whose last extension is one of exts, given
// with or without the leading dot. Directories pass so new ones get watched.
func ExtensionFilter(exts ...string) Filter {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		set[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return func(path string) bool {
		ext := filepath.Ext(path)
		if ext == "" {
			return true
		}
		return set[strings.ToLower(ext[1:])]
	}
}

// NoHiddenFilter rejects paths inside or naming dot files, such as editor
// swap files and .git.
func NoHiddenFilter(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return false
		}
	}
	return true
}
