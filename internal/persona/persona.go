// Package persona supplies the system prompt sent with every completion
// request. The file is read on every call so operators can edit it live.
package persona

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	DefaultPath    = "training.txt"
	DefaultPersona = "You are a confident adult female influencer. Respond naturally."
)

// Loader reads the persona from Path, falling back to Fallback (or
// DefaultPersona) when the file is missing, unreadable or blank.
type Loader struct {
	Path     string
	Fallback string
}

func NewLoader(path string) *Loader {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	return &Loader{Path: path, Fallback: DefaultPersona}
}

// Load returns the current persona text, trimmed. It never returns "".
func (l *Loader) Load() string {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return l.fallback()
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return l.fallback()
	}
	return text
}

func (l *Loader) fallback() string {
	if fb := strings.TrimSpace(l.Fallback); fb != "" {
		return fb
	}
	return DefaultPersona
}

// Watch logs persona edits until ctx is done. It watches the parent
// directory so that editors which replace the file are still seen.
func (l *Loader) Watch(ctx context.Context, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create persona watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(l.Path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch persona dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				logger.Info("persona file removed, using default", zap.String("path", l.Path))
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				logger.Info("persona reloaded",
					zap.String("path", l.Path),
					zap.Int("chars", len([]rune(l.Load()))),
				)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("persona watcher error", zap.Error(err))
		}
	}
}
