package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"instancegraph/application/traversal"
)

// LimitsWatcher reloads the traversal limits from a YAML file whenever it
// changes. It serves the executor as a traversal.LimitsProvider; an invalid
// file keeps the previous limits.
type LimitsWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	mu       sync.RWMutex
	base     LimitsConfig
	current  LimitsConfig
	onChange []func(traversal.Limits)
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	debounce time.Duration
}

// limitsFile is the part of the YAML file the watcher reads
type limitsFile struct {
	Limits LimitsConfig `yaml:"limits"`
}

// NewLimitsWatcher applies the file at path over base. Every reload starts
// again from base, so a key removed from the file reverts to its base value.
func NewLimitsWatcher(path string, base LimitsConfig, logger *zap.Logger) (*LimitsWatcher, error) {
	initial, err := loadLimits(path, base)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial limits: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory so atomic saves (write then rename) are seen
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return &LimitsWatcher{
		path:     path,
		watcher:  watcher,
		base:     base,
		current:  initial,
		logger:   logger,
		stopCh:   make(chan struct{}),
		debounce: 100 * time.Millisecond,
	}, nil
}

// Limits implements traversal.LimitsProvider
func (w *LimitsWatcher) Limits() traversal.Limits {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current.Traversal()
}

// OnChange registers a callback run after every successful reload.
// Register callbacks before Start.
func (w *LimitsWatcher) OnChange(fn func(traversal.Limits)) {
	w.onChange = append(w.onChange, fn)
}

// Start begins watching for changes
func (w *LimitsWatcher) Start() {
	go w.watchLoop()
	w.logger.Info("Limits watcher started", zap.String("path", w.path))
}

// Stop stops watching. It is safe to call more than once.
func (w *LimitsWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
		w.logger.Info("Limits watcher stopped")
	})
}

func (w *LimitsWatcher) watchLoop() {
	var timer *time.Timer

	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *LimitsWatcher) reload() {
	next, err := loadLimits(w.path, w.base)
	if err != nil {
		w.logger.Error("Invalid limits, keeping current", zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = next
	w.mu.Unlock()

	if old == next {
		return
	}
	w.logger.Info("Traversal limits reloaded",
		zap.Int("max_hops", next.MaxHops),
		zap.Int("page_size", next.DefaultPageSize),
		zap.Int("max_retries", next.MaxRetries),
		zap.Duration("retry_base_delay", next.RetryBaseDelay),
		zap.Int("concurrency", next.Concurrency),
	)
	for _, fn := range w.onChange {
		fn(next.Traversal())
	}
}

// loadLimits reads the limits section of path over base and validates it
func loadLimits(path string, base LimitsConfig) (LimitsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LimitsConfig{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	file := limitsFile{Limits: base}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return LimitsConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := validate.Struct(file.Limits); err != nil {
		return LimitsConfig{}, fmt.Errorf("invalid limits: %w", err)
	}
	return file.Limits, nil
}
