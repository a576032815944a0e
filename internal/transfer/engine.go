package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/zher/internal/downloader/progress"
	"github.com/italolelis/zher/internal/logctx"
	"github.com/italolelis/zher/internal/telemetry"
)

const (
	// StagingSuffix marks a file that is still being written.
	StagingSuffix = ".part"

	chunkSize = 32 * 1024
)

// HTTPClient is the subset of *http.Client the engine needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one transfer.
type Request struct {
	ID          uint64
	URL         string
	Name        string
	StagingPath string
	FinalPath   string
}

// Result describes a completed transfer.
type Result struct {
	Size int64
}

// Engine runs transfers. One Engine serves any number of concurrent Run calls.
type Engine struct {
	client           HTTPClient
	sink             Sink
	userAgent        string
	progressInterval time.Duration
	telemetry        *telemetry.Telemetry
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithUserAgent(ua string) EngineOption {
	return func(e *Engine) { e.userAgent = ua }
}

// WithProgressInterval sets the minimum spacing of progress notifications.
func WithProgressInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.progressInterval = d }
}

func WithTelemetry(t *telemetry.Telemetry) EngineOption {
	return func(e *Engine) { e.telemetry = t }
}

// NewEngine creates an Engine. A nil sink discards events.
func NewEngine(client HTTPClient, sink Sink, opts ...EngineOption) *Engine {
	if client == nil {
		client = http.DefaultClient
	}

	if sink == nil {
		sink = Discard
	}

	e := &Engine{client: client, sink: sink}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run fetches req.URL into the staging file and renames it to the final path
// once the stream ends. An existing staging file is resumed with a Range request.
//
// Control signals are read from control until the transfer ends. A closed
// control channel and a cancelled context both count as Cancel; in every
// cancelled case the staging file is kept so a later Run can resume it.
//
// Run emits started, progress, paused and resumed events. The terminal
// completed or failed event is left to the caller.
func (e *Engine) Run(ctx context.Context, req Request, control <-chan Signal) (Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("name", req.Name)

	offset, err := stagingSize(req.StagingPath)
	if err != nil {
		return Result{}, &FileSystemError{Operation: "stat", Path: req.StagingPath, Err: err}
	}

	reqCtx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()

	resp, paused, err := e.await(ctx, reqCtx, cancelReq, req.URL, offset, control)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			logger.InfoContext(ctx, "download cancelled before the peer answered")
		}

		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 &&
		parseTotal(resp.Header, -1, 0) == offset {
		logger.InfoContext(ctx, "staging file already complete", "size", humanize.IBytes(uint64(offset)))
		e.sink.Emit(ctx, Event{Type: EventStarted, ID: req.ID, Name: req.Name, Size: offset})

		return finalize(req, offset)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &NetworkError{Operation: "request", StatusCode: resp.StatusCode}
	}

	if offset > 0 && resp.StatusCode != http.StatusPartialContent {
		logger.InfoContext(ctx, "peer ignored range request, restarting from zero",
			"discarded", humanize.IBytes(uint64(offset)))

		offset = 0
	}

	total := parseTotal(resp.Header, resp.ContentLength, offset)

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if offset == 0 {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(req.StagingPath, flags, 0o644)
	if err != nil {
		return Result{}, &FileSystemError{Operation: "create", Path: req.StagingPath, Err: err}
	}
	defer f.Close()

	logger.InfoContext(ctx, "download started",
		"offset", humanize.IBytes(uint64(offset)),
		"size", humanize.IBytes(uint64(total)),
	)
	e.sink.Emit(ctx, Event{Type: EventStarted, ID: req.ID, Name: req.Name, Size: total})

	if paused {
		logger.DebugContext(ctx, "download paused")
		e.sink.Emit(ctx, Event{Type: EventPaused, ID: req.ID})
	}

	w := bufio.NewWriterSize(f, chunkSize)
	tracker := progress.NewTracker(offset, total, e.progressInterval)

	received, err := e.stream(ctx, req, resp.Body, w, tracker, control, paused)
	if err != nil {
		return Result{}, err
	}

	if err := f.Close(); err != nil {
		return Result{}, &FileSystemError{Operation: "close", Path: req.StagingPath, Err: err}
	}

	return finalize(req, received)
}

type opened struct {
	resp *http.Response
	err  error
}

// await sends the request and waits for the response headers while reading
// control. Cancel, a closed control channel or ctx ending abort the request.
// Pause and Resume are folded into the returned paused state, which streaming
// starts from.
func (e *Engine) await(
	ctx, reqCtx context.Context,
	cancelReq context.CancelFunc,
	url string,
	offset int64,
	control <-chan Signal,
) (*http.Response, bool, error) {
	result := make(chan opened, 1)

	go func() {
		resp, err := e.open(reqCtx, url, offset)
		result <- opened{resp: resp, err: err}
	}()

	abort := func(cause error) (*http.Response, bool, error) {
		cancelReq()

		if o := <-result; o.resp != nil {
			o.resp.Body.Close()
		}

		if cause != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrCancelled, cause)
		}

		return nil, false, ErrCancelled
	}

	paused := false

	for {
		select {
		case o := <-result:
			if o.err != nil {
				if ctx.Err() != nil {
					return nil, false, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
				}

				return nil, false, &NetworkError{Operation: "request", Err: o.err}
			}

			return o.resp, paused, nil
		case sig, ok := <-control:
			switch {
			case !ok, sig == Cancel:
				return abort(nil)
			case sig == Pause:
				paused = true
			case sig == Resume:
				paused = false
			}
		case <-ctx.Done():
			return abort(ctx.Err())
		}
	}
}

func (e *Engine) open(ctx context.Context, url string, offset int64) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	if e.userAgent != "" {
		httpReq.Header.Set("User-Agent", e.userAgent)
	}

	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	return e.client.Do(httpReq)
}

type chunk struct {
	data []byte
	err  error
}

// stream copies body into w, one read at a time, while servicing control
// signals. A new read is only requested while active, so nothing is consumed
// from the connection after a pause beyond the read already in flight.
func (e *Engine) stream(
	ctx context.Context,
	req Request,
	body io.Reader,
	w *bufio.Writer,
	tracker *progress.Tracker,
	control <-chan Signal,
	paused bool,
) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	reads := make(chan []byte)
	results := make(chan chunk, 1)

	go func() {
		for buf := range reads {
			n, err := body.Read(buf)
			results <- chunk{data: buf[:n], err: err}
		}
	}()
	defer close(reads)

	buf := make([]byte, chunkSize)
	pending := false

	flush := func() error {
		if err := w.Flush(); err != nil {
			return &FileSystemError{Operation: "flush", Path: req.StagingPath, Err: err}
		}

		return nil
	}

	cancelled := func(cause error) (int64, error) {
		if err := flush(); err != nil {
			return 0, err
		}

		logger.InfoContext(ctx, "download cancelled, staging file kept",
			"received", humanize.IBytes(uint64(tracker.Received())))

		if cause != nil {
			return 0, fmt.Errorf("%w: %w", ErrCancelled, cause)
		}

		return 0, ErrCancelled
	}

	for {
		if !paused && !pending {
			reads <- buf
			pending = true
		}

		// A nil channel disables the stream case while paused.
		var next <-chan chunk
		if !paused {
			next = results
		}

		select {
		case <-ctx.Done():
			return cancelled(ctx.Err())

		case sig, ok := <-control:
			if !ok {
				return cancelled(nil)
			}

			switch sig {
			case Pause:
				if paused {
					continue
				}

				if err := flush(); err != nil {
					return 0, err
				}

				paused = true

				logger.DebugContext(ctx, "download paused")
				e.sink.Emit(ctx, Event{Type: EventPaused, ID: req.ID})
			case Resume:
				if !paused {
					continue
				}

				paused = false

				logger.DebugContext(ctx, "download resumed")
				e.sink.Emit(ctx, Event{Type: EventResumed, ID: req.ID})
			case Cancel:
				return cancelled(nil)
			}

		case c := <-next:
			pending = false

			if len(c.data) > 0 {
				if _, err := w.Write(c.data); err != nil {
					_ = flush()

					return 0, &FileSystemError{Operation: "write", Path: req.StagingPath, Err: err}
				}

				e.telemetry.AddDownloadedBytes(ctx, int64(len(c.data)))

				if received, report := tracker.Advance(len(c.data)); report {
					e.sink.Emit(ctx, Event{
						Type:     EventProgress,
						ID:       req.ID,
						Received: received,
						Total:    tracker.Total(),
						Percent:  tracker.Percent(),
					})
				}
			}

			if errors.Is(c.err, io.EOF) {
				if err := flush(); err != nil {
					return 0, err
				}

				return tracker.Received(), nil
			}

			if c.err != nil {
				if ctx.Err() != nil {
					return cancelled(ctx.Err())
				}

				if err := flush(); err != nil {
					return 0, errors.Join(&NetworkError{Operation: "stream", Err: c.err}, err)
				}

				return 0, &NetworkError{Operation: "stream", Err: c.err}
			}
		}
	}
}

// finalize moves the staging file to its final name.
func finalize(req Request, size int64) (Result, error) {
	if err := os.Rename(req.StagingPath, req.FinalPath); err != nil {
		return Result{}, &FileSystemError{Operation: "save", Path: req.FinalPath, Err: err}
	}

	return Result{Size: size}, nil
}

func stagingSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	return info.Size(), nil
}

// parseTotal resolves the full size of the resource. Content-Range wins when
// its value after '/' is a number; a Content-Range with an unknown size falls
// back to offset plus Content-Length. contentLength < 0 means unknown. An
// unknown total is 0.
func parseTotal(h http.Header, contentLength, offset int64) int64 {
	if cr := h.Get("Content-Range"); cr != "" {
		if _, after, ok := strings.Cut(cr, "/"); ok {
			if n, err := strconv.ParseInt(strings.TrimSpace(after), 10, 64); err == nil {
				return n
			}
		}

		if contentLength >= 0 {
			return offset + contentLength
		}

		return 0
	}

	return max(contentLength, 0)
}
