// Package downloader owns the set of running transfers and the list of
// completed download records.
package downloader

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/italolelis/zher/internal/logctx"
	"github.com/italolelis/zher/internal/storage"
	"github.com/italolelis/zher/internal/telemetry"
	"github.com/italolelis/zher/internal/transfer"
)

const (
	dirPerm = 0755

	controlBuffer = 8
)

// Engine runs a single transfer until it reaches a terminal state.
type Engine interface {
	Run(ctx context.Context, req transfer.Request, control <-chan transfer.Signal) (transfer.Result, error)
}

// Task is a running transfer.
type Task struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

type activeDownload struct {
	control chan transfer.Signal
	done    chan struct{}
	name    string
	staging string
}

// Registry starts transfers, routes control signals to them and keeps the
// completed-download records. Running transfers and records are guarded by
// separate locks so that persisting records never delays a control signal.
type Registry struct {
	downloadDir string
	engine      Engine
	store       storage.RecordStore
	sink        transfer.Sink
	telemetry   *telemetry.Telemetry
	ids         *idSource

	activeMu sync.Mutex
	active   map[uint64]*activeDownload

	recordsMu sync.Mutex
	records   []storage.DownloadRecord
	version   uint64

	// saveMu orders writes so an older snapshot never replaces a newer one.
	saveMu       sync.Mutex
	savedVersion uint64

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRegistry loads the stored records and returns a ready Registry. Transfers
// run under a context detached from ctx's cancellation; Close stops them.
func NewRegistry(
	ctx context.Context,
	downloadDir string,
	engine Engine,
	store storage.RecordStore,
	sink transfer.Sink,
	tel *telemetry.Telemetry,
) (*Registry, error) {
	records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load download records: %w", err)
	}

	if records == nil {
		records = []storage.DownloadRecord{}
	}

	if sink == nil {
		sink = transfer.Discard
	}

	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "download records loaded", "count", len(records))

	return &Registry{
		downloadDir: downloadDir,
		engine:      engine,
		store:       store,
		sink:        sink,
		telemetry:   tel,
		ids:         newIDSource(),
		active:      make(map[uint64]*activeDownload),
		records:     records,
		baseCtx:     baseCtx,
		cancel:      cancel,
	}, nil
}

// Start allocates a task id and a collision-free file name, then runs the
// transfer in the background. It returns as soon as the task is registered.
func (r *Registry) Start(ctx context.Context, url, filename string) (uint64, error) {
	name, err := SanitizeFilename(filename)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(r.downloadDir, dirPerm); err != nil {
		return 0, &transfer.FileSystemError{Operation: "create", Path: r.downloadDir, Err: err}
	}

	r.activeMu.Lock()

	unique, err := UniqueFilename(r.downloadDir, name, r.reservedLocked)
	if err != nil {
		r.activeMu.Unlock()

		return 0, err
	}

	id := r.ids.Next()
	finalPath := filepath.Join(r.downloadDir, unique)
	handle := &activeDownload{
		control: make(chan transfer.Signal, controlBuffer),
		done:    make(chan struct{}),
		name:    unique,
		staging: finalPath + transfer.StagingSuffix,
	}
	r.active[id] = handle

	r.activeMu.Unlock()

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "download queued", "download_id", id, "name", unique)

	r.wg.Add(1)

	go r.run(id, transfer.Request{
		ID:          id,
		URL:         url,
		Name:        unique,
		StagingPath: handle.staging,
		FinalPath:   finalPath,
	}, handle)

	return id, nil
}

func (r *Registry) reservedLocked(name string) bool {
	for _, h := range r.active {
		if h.name == name {
			return true
		}
	}

	return false
}

func (r *Registry) run(id uint64, req transfer.Request, handle *activeDownload) {
	defer r.wg.Done()

	ctx := logctx.WithDownloadID(r.baseCtx, id)
	logger := logctx.LoggerFromContext(ctx)

	var res transfer.Result

	err := r.telemetry.InstrumentDownload(ctx, transfer.Outcome, func(ctx context.Context) error {
		var err error

		res, err = r.engine.Run(ctx, req, handle.control)

		return err
	})

	// The handle goes away before the terminal event so that anyone reacting
	// to the event already sees the task as gone.
	r.release(id, handle)

	if err != nil {
		if errors.Is(err, transfer.ErrCancelled) {
			logger.InfoContext(ctx, "download cancelled", "name", req.Name)
		} else {
			logger.ErrorContext(ctx, "download failed", "name", req.Name, "err", err)
		}

		r.sink.Emit(ctx, transfer.Event{Type: transfer.EventFailed, ID: id, Name: req.Name, Error: err.Error()})

		return
	}

	record := storage.DownloadRecord{
		ID:        uuid.NewString(),
		Filename:  req.Name,
		Path:      req.FinalPath,
		Size:      res.Size,
		Timestamp: time.Now().UnixMilli(),
	}

	r.recordsMu.Lock()
	r.records = append(r.records, record)
	snapshot, version := r.snapshotLocked()
	r.recordsMu.Unlock()

	r.persist(ctx, snapshot, version)

	logger.InfoContext(ctx, "download completed", "name", req.Name, "size", humanize.IBytes(uint64(res.Size)))

	r.sink.Emit(ctx, transfer.Event{
		Type: transfer.EventCompleted,
		ID:   id,
		Name: req.Name,
		Path: req.FinalPath,
		Size: res.Size,
	})
}

func (r *Registry) release(id uint64, handle *activeDownload) {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()

	if r.active[id] == handle {
		delete(r.active, id)
	}

	close(handle.done)
}

// Signal delivers sig to a running task. Unknown and finished tasks yield
// transfer.ErrNotFound. Cancel returns once the task has ended and left the
// registry, so any later signal for it yields transfer.ErrNotFound.
func (r *Registry) Signal(ctx context.Context, id uint64, sig transfer.Signal) error {
	r.activeMu.Lock()
	handle, ok := r.active[id]
	r.activeMu.Unlock()

	if !ok {
		return transfer.ErrNotFound
	}

	select {
	case <-handle.done:
		return transfer.ErrNotFound
	default:
	}

	select {
	case handle.control <- sig:
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "signal delivered", "download_id", id, "signal", sig.String())
	case <-handle.done:
		return transfer.ErrNotFound
	case <-ctx.Done():
		return ctx.Err()
	}

	if sig != transfer.Cancel {
		return nil
	}

	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("download %d did not stop: %w", id, ctx.Err())
	}
}

// Pause, Resume and Cancel are shorthands for Signal.
func (r *Registry) Pause(ctx context.Context, id uint64) error {
	return r.Signal(ctx, id, transfer.Pause)
}

func (r *Registry) Resume(ctx context.Context, id uint64) error {
	return r.Signal(ctx, id, transfer.Resume)
}

func (r *Registry) Cancel(ctx context.Context, id uint64) error {
	return r.Signal(ctx, id, transfer.Cancel)
}

// Active lists the running tasks ordered by id.
func (r *Registry) Active() []Task {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()

	tasks := make([]Task, 0, len(r.active))
	for id, h := range r.active {
		tasks = append(tasks, Task{ID: id, Name: h.name})
	}

	slices.SortFunc(tasks, func(a, b Task) int { return cmp.Compare(a.ID, b.ID) })

	return tasks
}

// StagingInUse reports whether path is the staging file of a running task.
func (r *Registry) StagingInUse(path string) bool {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()

	for _, h := range r.active {
		if h.staging == path {
			return true
		}
	}

	return false
}

// Records returns a copy of the completed-download records.
func (r *Registry) Records() []storage.DownloadRecord {
	r.recordsMu.Lock()
	defer r.recordsMu.Unlock()

	return slices.Clone(r.records)
}

// DeleteRecord removes a record and, best effort, its file.
func (r *Registry) DeleteRecord(ctx context.Context, id string) error {
	r.recordsMu.Lock()

	idx := slices.IndexFunc(r.records, func(rec storage.DownloadRecord) bool { return rec.ID == id })
	if idx < 0 {
		r.recordsMu.Unlock()

		return storage.ErrRecordNotFound
	}

	removed := r.records[idx]
	r.records = slices.Delete(r.records, idx, idx+1)
	snapshot, version := r.snapshotLocked()

	r.recordsMu.Unlock()

	removeFile(ctx, removed.Path)
	r.persist(ctx, snapshot, version)

	return nil
}

// DeleteAll clears every record and, best effort, removes their files.
func (r *Registry) DeleteAll(ctx context.Context) error {
	r.recordsMu.Lock()

	removed := r.records
	r.records = []storage.DownloadRecord{}
	snapshot, version := r.snapshotLocked()

	r.recordsMu.Unlock()

	for _, rec := range removed {
		removeFile(ctx, rec.Path)
	}

	r.persist(ctx, snapshot, version)

	return nil
}

// RenameRecord renames a record's file within its directory. The file is
// renamed first; the record only changes once that succeeded, so a failure
// leaves both untouched.
func (r *Registry) RenameRecord(ctx context.Context, id, newName string) (storage.DownloadRecord, error) {
	name, err := SanitizeFilename(newName)
	if err != nil {
		return storage.DownloadRecord{}, err
	}

	r.recordsMu.Lock()

	idx := slices.IndexFunc(r.records, func(rec storage.DownloadRecord) bool { return rec.ID == id })
	if idx < 0 {
		r.recordsMu.Unlock()

		return storage.DownloadRecord{}, storage.ErrRecordNotFound
	}

	rec := r.records[idx]
	newPath := filepath.Join(filepath.Dir(rec.Path), name)

	if _, err := os.Lstat(newPath); err == nil {
		r.recordsMu.Unlock()

		return storage.DownloadRecord{}, fmt.Errorf("cannot rename to %q: %w", name, transfer.ErrFileExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		r.recordsMu.Unlock()

		return storage.DownloadRecord{}, &transfer.FileSystemError{Operation: "stat", Path: newPath, Err: err}
	}

	if err := os.Rename(rec.Path, newPath); err != nil {
		r.recordsMu.Unlock()

		return storage.DownloadRecord{}, &transfer.FileSystemError{Operation: "rename", Path: rec.Path, Err: err}
	}

	rec.Filename = name
	rec.Path = newPath
	r.records[idx] = rec
	snapshot, version := r.snapshotLocked()

	r.recordsMu.Unlock()

	r.persist(ctx, snapshot, version)

	return rec, nil
}

// Close cancels running transfers, keeping their staging files, and waits for
// them to finish or for ctx to expire.
func (r *Registry) Close(ctx context.Context) error {
	r.cancel()

	done := make(chan struct{})

	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("transfers still running at shutdown: %w", ctx.Err())
	}
}

func (r *Registry) snapshotLocked() ([]storage.DownloadRecord, uint64) {
	r.version++

	return slices.Clone(r.records), r.version
}

// persist writes snapshot unless a newer one was already written. Failures are
// logged; the in-memory list stays authoritative.
func (r *Registry) persist(ctx context.Context, snapshot []storage.DownloadRecord, version uint64) {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	if version <= r.savedVersion {
		return
	}

	if err := r.store.Save(ctx, snapshot); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to persist download records", "err", err)

		return
	}

	r.savedVersion = version
}

func removeFile(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to remove downloaded file", "path", path, "err", err)
	}
}
