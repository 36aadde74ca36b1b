// Package signals lets other processes steer a running planner through
// files dropped into .sleuth/signals. A file named cancel-<conversation>
// cancels that conversation, a bare cancel file cancels every active one,
// and approve-<adaptation> or reject-<adaptation> answers a held plan
// adaptation. The file body, if any, is recorded as the reason.
package signals

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Kind is the action a signal file requests.
type Kind string

const (
	KindCancel  Kind = "cancel"
	KindApprove Kind = "approve"
	KindReject  Kind = "reject"
)

// DefaultPollInterval is how often the signals directory is rescanned.
const DefaultPollInterval = 500 * time.Millisecond

// Signal is one parsed signal file.
type Signal struct {
	Kind Kind
	// Target is a conversation ID for cancel, an adaptation ID otherwise.
	// Empty for a bare cancel.
	Target string
	Reason string
	Path   string
}

// Handler acts on a signal. It returns true once the signal is consumed;
// unconsumed signal files stay in place and are retried on the next scan.
type Handler interface {
	Handle(Signal) bool
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Signal) bool

// Handle calls f.
func (f HandlerFunc) Handle(s Signal) bool { return f(s) }

// Dir returns the signals directory under root.
func Dir(root string) string {
	return filepath.Join(root, ".sleuth", "signals")
}

// Parse maps a signal file name to a signal. It returns false for names
// that are not signals.
func Parse(name string) (Signal, bool) {
	if name == string(KindCancel) {
		return Signal{Kind: KindCancel}, true
	}
	for _, k := range []Kind{KindCancel, KindApprove, KindReject} {
		prefix := string(k) + "-"
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			return Signal{Kind: k, Target: strings.TrimPrefix(name, prefix)}, true
		}
	}
	return Signal{}, false
}

// Watcher delivers signal files to a handler.
type Watcher struct {
	dir     string
	handler Handler
	poll    time.Duration

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	debugLog func(format string, args ...interface{})
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPollInterval sets the rescan interval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithDebugLog sets the debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(w *Watcher) {
		if fn != nil {
			w.debugLog = fn
		}
	}
}

// NewWatcher creates the signals directory under root and a watcher for it.
// When a file watcher cannot be set up it falls back to polling alone.
func NewWatcher(root string, h Handler, opts ...Option) (*Watcher, error) {
	if h == nil {
		return nil, fmt.Errorf("signals: nil handler")
	}
	w := &Watcher{
		dir:      Dir(root),
		handler:  h,
		poll:     DefaultPollInterval,
		done:     make(chan struct{}),
		debugLog: func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.debugLog("[signals.NewWatcher] fsnotify unavailable, polling only: %v", err)
		return w, nil
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		w.debugLog("[signals.NewWatcher] watch %s failed, polling only: %v", w.dir, err)
		return w, nil
	}
	w.watcher = fw
	return w, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Start processes pending signal files, then watches for new ones until
// ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	w.Scan()
	w.wg.Add(1)
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.watcher != nil {
		events = w.watcher.Events
		errs = w.watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.process(event.Name)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.debugLog("[signals.loop] watcher error: %v", err)
		case <-ticker.C:
			w.Scan()
		}
	}
}

// Scan delivers every signal file currently in the directory, oldest name
// first. It returns the number of signals consumed.
func (w *Watcher) Scan() int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.debugLog("[signals.Scan] read %s: %v", w.dir, err)
		return 0
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	consumed := 0
	for _, name := range names {
		if w.process(filepath.Join(w.dir, name)) {
			consumed++
		}
	}
	return consumed
}

// process hands one file to the handler and removes it once consumed.
func (w *Watcher) process(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	sig, ok := Parse(filepath.Base(path))
	if !ok {
		return false
	}
	body, err := os.ReadFile(path)
	if err != nil {
		// Already consumed by an earlier event or scan.
		return false
	}
	sig.Reason = strings.TrimSpace(string(body))
	sig.Path = path

	if !w.handler.Handle(sig) {
		return false
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.debugLog("[signals.process] remove %s: %v", path, err)
	}
	w.debugLog("[signals.process] consumed %s %s", sig.Kind, sig.Target)
	return true
}

// Close stops the watcher and waits for its loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	w.wg.Wait()
	return err
}

// Send writes a signal file under root. Target may be empty only for cancel.
func Send(root string, kind Kind, target, reason string) (string, error) {
	name := string(kind)
	if target != "" {
		name += "-" + target
	} else if kind != KindCancel {
		return "", fmt.Errorf("signals: %s needs a target", kind)
	}
	if strings.ContainsAny(target, `/\`) {
		return "", fmt.Errorf("signals: invalid target %q", target)
	}
	dir := Dir(root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create signals directory: %w", err)
	}
	// Write then rename so the watcher never sees a partial body.
	tmp, err := os.CreateTemp(dir, ".pending-*")
	if err != nil {
		return "", fmt.Errorf("write signal: %w", err)
	}
	if _, err := tmp.WriteString(reason); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write signal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write signal: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write signal: %w", err)
	}
	return path, nil
}

// SendCancel asks the running planner to cancel a conversation, or every
// active conversation when id is empty.
func SendCancel(root, id string) (string, error) {
	return Send(root, KindCancel, id, "")
}

// SendApprove approves a held adaptation.
func SendApprove(root, adaptationID, reason string) (string, error) {
	return Send(root, KindApprove, adaptationID, reason)
}

// SendReject rejects a held adaptation.
func SendReject(root, adaptationID, reason string) (string, error) {
	return Send(root, KindReject, adaptationID, reason)
}

// Clear removes every signal file under root.
func Clear(root string) error {
	entries, err := os.ReadDir(Dir(root))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, ok := Parse(e.Name()); ok {
			os.Remove(filepath.Join(Dir(root), e.Name()))
		}
	}
	return nil
}
