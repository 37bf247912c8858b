// Package intake watches a drop directory for TOML batch request files
// and submits them through the engine. Processed files are renamed
// .submitted or .rejected so a file is never picked up twice.
package intake

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/glosshq/glossgen/internal/domain"
	"github.com/pelletier/go-toml/v2"
)

// Submitter accepts a parsed batch request; the engine implements it
type Submitter interface {
	Submit(ctx context.Context, req *domain.BatchRequest) (*domain.BatchOperation, *domain.CostEstimate, error)
}

// Watcher monitors the drop directory for request files
type Watcher struct {
	dir       string
	watcher   *fsnotify.Watcher
	submitter Submitter
	debounce  time.Duration

	// Debounce state
	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
}

// NewWatcher creates a watcher for the given drop directory
func NewWatcher(dir string, submitter Submitter) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		dir:       dir,
		watcher:   fw,
		submitter: submitter,
		debounce:  500 * time.Millisecond, // Debounce rapid changes
		pending:   make(map[string]struct{}),
	}, nil
}

// Start begins watching for request files. Files already present in
// the directory are picked up immediately.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.scanExisting()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("intake: watch error: %v", err)
			}
		}
	}()
}

// Stop stops watching for request files
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
}

// SetDebounce sets the debounce duration for batching file changes
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Printf("intake: scanning %s: %v", w.dir, err)
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".toml") {
			w.enqueue(filepath.Join(w.dir, entry.Name()))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Only care about request files
	if !strings.HasSuffix(event.Name, ".toml") {
		return
	}
	// Only care about writes and creates
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	w.enqueue(event.Name)
}

func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}

	// Reset or start debounce timer
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	for path := range pending {
		w.process(path)
	}
}

func (w *Watcher) process(path string) {
	req, err := ParseRequestFile(path)
	if err != nil {
		log.Printf("intake: rejecting %s: %v", filepath.Base(path), err)
		w.markRejected(path, err)
		return
	}

	op, _, err := w.submitter.Submit(context.Background(), req)
	if err != nil {
		log.Printf("intake: rejecting %s: %v", filepath.Base(path), err)
		w.markRejected(path, err)
		return
	}

	log.Printf("intake: %s submitted as operation %s", filepath.Base(path), op.ID)
	if err := os.Rename(path, path+".submitted"); err != nil {
		log.Printf("intake: renaming %s: %v", path, err)
	}
}

func (w *Watcher) markRejected(path string, cause error) {
	if err := os.Rename(path, path+".rejected"); err != nil {
		log.Printf("intake: renaming %s: %v", path, err)
		return
	}
	// Leave the reason next to the rejected file for the operator
	reason := []byte(cause.Error() + "\n")
	if err := os.WriteFile(path+".rejected.reason", reason, 0o644); err != nil {
		log.Printf("intake: writing rejection reason for %s: %v", path, err)
	}
}

// ParseRequestFile reads and decodes one TOML request file
func ParseRequestFile(path string) (*domain.BatchRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var req domain.BatchRequest
	if err := toml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing request file: %w", err)
	}
	return &req, nil
}
