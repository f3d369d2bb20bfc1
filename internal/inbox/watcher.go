// Package inbox implements component H: a debounced filesystem watcher
// over the configured inbox folders that turns bursts of file events into
// a single auto-session job per album folder.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/redis/go-redis/v9"

	"github.com/orbimport/importsvc/internal/errorsx"
	"github.com/orbimport/importsvc/internal/fingerprint"
	"github.com/orbimport/importsvc/pkg/config"
	"github.com/orbimport/importsvc/pkg/rkeys"
	"github.com/orbimport/importsvc/pkg/store"
)

// scanLockTTL bounds how long a reconciliation scan may hold
// rkeys.InboxScanLock before another server replica is allowed to retry it
// — generous relative to a directory walk, stingy enough that a crashed
// holder doesn't wedge reconciliation forever.
const scanLockTTL = 2 * time.Minute

// RoleEnv and RoleWorker implement the "must not run under worker
// processes" guard: cmd/worker sets RoleEnv=RoleWorker before doing
// anything else, and Run refuses to start if it sees that value.
const (
	RoleEnv    = "ORB_PROCESS_ROLE"
	RoleWorker = "worker"
)

// startupDelay is the brief worker-ready pause before the reconciliation
// scan's scheduled auto-tags actually fire, giving worker processes time
// to come up after the server starts (§4.H step 5).
const startupDelay = 5 * time.Second

// Enqueuer is the narrow slice of *jobs.Dispatcher the watcher needs.
// Declared here rather than imported to keep inbox -> jobs a one-way
// dependency the watcher's tests can satisfy with a fake.
type Enqueuer interface {
	EnqueuePreview(ctx context.Context, hash, path string) (string, error)
	EnqueueImportAuto(ctx context.Context, hash, path string, threshold float64, duplicateActions map[string]string) (string, error)
	EnqueueImportBootleg(ctx context.Context, hash, path string) (string, error)
}

// Watcher debounces raw fsnotify events per album folder and enqueues at
// most one job per folder per debounce window (§4.H).
type Watcher struct {
	fw      *fsnotify.Watcher
	fp      *fingerprint.Fingerprinter
	db      *store.Store
	rdb     *redis.Client
	enq     Enqueuer
	folders []config.InboxFolder
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New builds a Watcher over the configured inbox folders. It does not
// start watching until Run is called. rdb serializes the startup
// reconciliation scan across server replicas via rkeys.InboxScanLock; a
// nil rdb disables that guard (every replica reconciles independently).
func New(cfg *config.Config, fp *fingerprint.Fingerprinter, db *store.Store, rdb *redis.Client, enq Enqueuer) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("inbox: create watcher: %w", err)
	}
	return &Watcher{
		fw:       fw,
		fp:       fp,
		db:       db,
		rdb:      rdb,
		enq:      enq,
		folders:  cfg.InboxFolders,
		debounce: time.Duration(cfg.DebounceWindowSeconds) * time.Second,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Run registers watches on every inbox folder (recursively), schedules the
// startup reconciliation scan, then services fsnotify events until ctx is
// cancelled. It refuses to run under a worker process (§4.H).
func (w *Watcher) Run(ctx context.Context) error {
	if os.Getenv(RoleEnv) == RoleWorker {
		return errorsx.Configuration("inbox watcher must not run in a worker process")
	}
	defer w.fw.Close()

	for _, inbox := range w.folders {
		if err := w.addTree(inbox.Path); err != nil {
			slog.Warn("inbox: failed to watch folder", "path", inbox.Path, "err", err)
		}
	}

	go w.reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			w.stopAllTimers()
			return ctx.Err()
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("inbox: watcher error", "err", err)
		}
	}
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d == nil || !d.IsDir() {
			return nil
		}
		return w.fw.Add(path)
	})
}

// handleEvent implements §4.H steps 1-4: drop dotfiles, resolve the event
// to an album folder, cancel any pending debounce for it, and schedule a
// fresh one.
func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if isDotfile(ev.Name) {
		return
	}
	if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
		_ = w.fw.Add(ev.Name)
	}

	inbox, ok := w.inboxFor(ev.Name)
	if !ok {
		return
	}
	folderPath, ok := w.resolveAlbumFolder(ev.Name, inbox.Path)
	if !ok {
		return
	}
	w.scheduleDebounce(ctx, inbox, folderPath)
}

func isDotfile(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func (w *Watcher) inboxFor(path string) (config.InboxFolder, bool) {
	for _, inbox := range w.folders {
		if strings.HasPrefix(path, inbox.Path) {
			return inbox, true
		}
	}
	return config.InboxFolder{}, false
}

// resolveAlbumFolder walks up from path toward inboxRoot looking for the
// first directory the fingerprinter classifies as an album (§4.A). Returns
// false if no ancestor up to and including inboxRoot qualifies.
func (w *Watcher) resolveAlbumFolder(path, inboxRoot string) (string, bool) {
	dir := path
	if fi, err := os.Stat(path); err != nil || !fi.IsDir() {
		dir = filepath.Dir(path)
	}
	inboxRoot = filepath.Clean(inboxRoot)
	for {
		if _, isAlbum, err := w.fp.Hash(dir); err == nil && isAlbum {
			return dir, true
		}
		if dir == inboxRoot || dir == "." || dir == string(filepath.Separator) {
			return "", false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// scheduleDebounce cancels any pending task for folderPath and schedules a
// new one debounce_window out (§4.H step 3-4).
func (w *Watcher) scheduleDebounce(ctx context.Context, inbox config.InboxFolder, folderPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[folderPath]; ok {
		t.Stop()
	}
	w.timers[folderPath] = time.AfterFunc(w.debounce, func() {
		w.fire(ctx, inbox, folderPath)
	})
}

func (w *Watcher) stopAllTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.timers {
		t.Stop()
	}
}

// fire runs the §4.H step-4 decision: consult the session store and
// enqueue the inbox's configured kind if warranted.
func (w *Watcher) fire(ctx context.Context, inbox config.InboxFolder, folderPath string) {
	w.mu.Lock()
	delete(w.timers, folderPath)
	w.mu.Unlock()

	if inbox.Autotag == config.AutotagOff {
		return
	}

	hash, _, err := w.fp.Hash(folderPath)
	if err != nil {
		slog.Warn("inbox: hash failed", "path", folderPath, "err", err)
		return
	}

	row, err := w.db.CurrentSessionByPath(ctx, folderPath)
	noSession := errors.Is(err, store.ErrNoCurrentSession)
	if err != nil && !noSession {
		slog.Warn("inbox: session lookup failed", "path", folderPath, "err", err)
		return
	}

	if !decideEnqueue(inbox.Autotag, noSession, hash, row.FolderHash) {
		return
	}

	if err := w.enqueue(ctx, inbox, hash, folderPath); err != nil {
		slog.Error("inbox: enqueue failed", "path", folderPath, "kind", inbox.Autotag, "err", err)
	}
}

// decideEnqueue implements §4.H step 4's predicate: enqueue when no
// session exists yet for the folder, or when this is a preview-kind inbox
// and the folder's freshly computed hash differs from the last session's.
func decideEnqueue(autotag config.Autotag, noSession bool, currentHash, storedHash string) bool {
	if noSession {
		return true
	}
	return autotag == config.AutotagPreview && currentHash != storedHash
}

func (w *Watcher) enqueue(ctx context.Context, inbox config.InboxFolder, hash, folderPath string) error {
	switch inbox.Autotag {
	case config.AutotagPreview:
		_, err := w.enq.EnqueuePreview(ctx, hash, folderPath)
		return err
	case config.AutotagAuto:
		_, err := w.enq.EnqueueImportAuto(ctx, hash, folderPath, inbox.AutoThreshold, nil)
		return err
	case config.AutotagBootleg:
		_, err := w.enq.EnqueueImportBootleg(ctx, hash, folderPath)
		return err
	default:
		return nil
	}
}

// reconcile performs the §4.H step-5 startup scan: after a brief
// worker-ready delay, every album folder under an autotag-enabled inbox
// gets a scheduled auto-tag, as if a file event had just fired for it.
func (w *Watcher) reconcile(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(startupDelay):
	}

	if !w.acquireScanLock(ctx) {
		slog.Info("inbox: reconciliation scan already held by another replica, skipping")
		return
	}
	defer w.releaseScanLock(ctx)

	for _, inbox := range w.folders {
		if inbox.Autotag == config.AutotagOff {
			continue
		}
		inbox := inbox
		_ = filepath.WalkDir(inbox.Path, func(path string, d os.DirEntry, err error) error {
			if err != nil || d == nil || !d.IsDir() {
				return nil
			}
			if _, isAlbum, err := w.fp.Hash(path); err == nil && isAlbum {
				w.scheduleDebounce(ctx, inbox, path)
			}
			return nil
		})
	}
}

// acquireScanLock takes rkeys.InboxScanLock via SETNX, so only one server
// replica runs the reconciliation scan at a time. Always succeeds when rdb
// is nil (single-replica deployments don't need the coordination).
func (w *Watcher) acquireScanLock(ctx context.Context) bool {
	if w.rdb == nil {
		return true
	}
	ok, err := w.rdb.SetNX(ctx, rkeys.InboxScanLock(), "1", scanLockTTL).Result()
	if err != nil {
		slog.Warn("inbox: scan lock unavailable, proceeding without it", "err", err)
		return true
	}
	return ok
}

func (w *Watcher) releaseScanLock(ctx context.Context) {
	if w.rdb == nil {
		return
	}
	if err := w.rdb.Del(ctx, rkeys.InboxScanLock()).Err(); err != nil {
		slog.Warn("inbox: failed to release scan lock", "err", err)
	}
}
