// Package rest exposes the transfer core to local callers over HTTP.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/zher/internal/discovery"
	"github.com/italolelis/zher/internal/downloader"
	"github.com/italolelis/zher/internal/logctx"
	"github.com/italolelis/zher/internal/server"
	"github.com/italolelis/zher/internal/storage"
	"github.com/italolelis/zher/internal/transfer"
)

const eventBuffer = 64

// Downloads is the download manager surface the API drives.
type Downloads interface {
	Start(ctx context.Context, url, filename string) (uint64, error)
	Signal(ctx context.Context, id uint64, sig transfer.Signal) error
	Active() []downloader.Task
	Records() []storage.DownloadRecord
	DeleteRecord(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	RenameRecord(ctx context.Context, id, newName string) (storage.DownloadRecord, error)
}

// Discoverer runs one discovery round.
type Discoverer interface {
	Discover(ctx context.Context) ([]discovery.PeerInfo, error)
}

// Serving controls the local file service.
type Serving interface {
	Start(ctx context.Context, host string, port int) (server.Status, error)
	Stop(ctx context.Context) error
	Status() server.Status
}

// Events hands out lifecycle event subscriptions.
type Events interface {
	Subscribe(buffer int) (<-chan transfer.Event, func())
}

// Options configure the handler.
type Options struct {
	ServicePort uint16
	ServiceHost string
	Username    string
	Password    string
	LocalIP     func() (netip.Addr, error)
}

// Handler serves the control API.
type Handler struct {
	downloads  Downloads
	discoverer Discoverer
	serving    Serving
	events     Events
	opts       Options
}

// NewHandler creates the control API handler.
func NewHandler(downloads Downloads, discoverer Discoverer, serving Serving, events Events, opts Options) *Handler {
	if opts.LocalIP == nil {
		opts.LocalIP = discovery.LocalIP
	}

	return &Handler{
		downloads:  downloads,
		discoverer: discoverer,
		serving:    serving,
		events:     events,
		opts:       opts,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.opts.Username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Post("/discover", h.HandleDiscover)
	r.Get("/validate", h.HandleValidate)
	r.Get("/local-ip", h.HandleLocalIP)

	r.Route("/downloads", func(r chi.Router) {
		r.Get("/", h.HandleListRecords)
		r.Post("/", h.HandleStartDownload)
		r.Delete("/", h.HandleDeleteAll)
		r.Get("/active", h.HandleListActive)
		r.Post("/{id}/{action}", h.HandleSignal)
		r.Patch("/{id}", h.HandleRename)
		r.Delete("/{id}", h.HandleDeleteRecord)
	})

	r.Get("/files", h.HandleReadFile)

	r.Get("/server", h.HandleServerStatus)
	r.Post("/server", h.HandleServerStart)
	r.Delete("/server", h.HandleServerStop)

	r.Get("/events", h.HandleEvents)

	return r
}

type startRequest struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type startResponse struct {
	ID uint64 `json:"id"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type serverRequest struct {
	Port int `json:"port"`
}

type validateResponse struct {
	Valid bool `json:"valid"`
}

type localIPResponse struct {
	IP string `json:"ip"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleDiscover runs a discovery round and returns the peers found.
func (h *Handler) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	peers, err := h.discoverer.Discover(r.Context())
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, peers)
}

func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	valid := discovery.ValidateServiceURL(r.URL.Query().Get("url"), h.opts.ServicePort)

	h.writeJSON(w, r, http.StatusOK, validateResponse{Valid: valid})
}

func (h *Handler) HandleLocalIP(w http.ResponseWriter, r *http.Request) {
	ip, err := h.opts.LocalIP()
	if err != nil {
		h.writeError(w, r, fmt.Errorf("failed to resolve local ip: %w", err))

		return
	}

	h.writeJSON(w, r, http.StatusOK, localIPResponse{IP: ip.String()})
}

// HandleStartDownload starts a transfer. Without a filename the last URL
// segment is used.
func (h *Handler) HandleStartDownload(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})

		return
	}

	if req.URL == "" {
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "url is required"})

		return
	}

	if strings.TrimSpace(req.Filename) == "" {
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "filename is required"})

		return
	}

	id, err := h.downloads.Start(r.Context(), req.URL, req.Filename)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusAccepted, startResponse{ID: id})
}

func (h *Handler) HandleSignal(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid download id"})

		return
	}

	sig, ok := transfer.ParseSignal(chi.URLParam(r, "action"))
	if !ok {
		h.writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "unknown action"})

		return
	}

	if err := h.downloads.Signal(r.Context(), id, sig); err != nil {
		h.writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.downloads.Records())
}

func (h *Handler) HandleListActive(w http.ResponseWriter, r *http.Request) {
	active := h.downloads.Active()
	if active == nil {
		active = []downloader.Task{}
	}

	h.writeJSON(w, r, http.StatusOK, active)
}

func (h *Handler) HandleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.downloads.DeleteRecord(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := h.downloads.DeleteAll(r.Context()); err != nil {
		h.writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRename(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})

		return
	}

	record, err := h.downloads.RenameRecord(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, record)
}

// HandleReadFile returns the bytes of the file at ?path=. Only existence is checked.
func (h *Handler) HandleReadFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "path is required"})

		return
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "file does not exist"})

			return
		}

		h.writeError(w, r, &transfer.FileSystemError{Operation: "open", Path: path, Err: err})

		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.writeError(w, r, &transfer.FileSystemError{Operation: "stat", Path: path, Err: err})

		return
	}

	if info.IsDir() {
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "path is a directory"})

		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (h *Handler) HandleServerStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.serving.Status())
}

// HandleServerStart starts the file service. An empty body uses the default port.
func (h *Handler) HandleServerStart(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	req := serverRequest{Port: int(h.opts.ServicePort)}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("failed to decode request", "err", err)
			h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})

			return
		}
	}

	if req.Port < 0 || req.Port > 65535 {
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "port out of range"})

		return
	}

	status, err := h.serving.Start(r.Context(), h.opts.ServiceHost, req.Port)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, status)
}

func (h *Handler) HandleServerStop(w http.ResponseWriter, r *http.Request) {
	if err := h.serving.Stop(r.Context()); err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, h.serving.Status())
}

// HandleEvents streams lifecycle events as server-sent events until the
// client goes away.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	rc := http.NewResponseController(w)

	events, unsubscribe := h.events.Subscribe(eventBuffer)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		logger.Error("streaming not supported", "err", err)

		return
	}

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}

			data, err := json.Marshal(ev)
			if err != nil {
				logger.Error("failed to encode event", "err", err)

				continue
			}

			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
		}

		_ = rc.SetWriteDeadline(time.Now().Add(30 * time.Second))

		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (h *Handler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.opts.Username || password != h.opts.Password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logctx.LoggerFromContext(r.Context()).Error("failed to handle request", "path", r.URL.Path, "err", err)
	}

	h.writeJSON(w, r, status, errorResponse{Error: err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var validationErr *transfer.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest
	}

	var networkErr *transfer.NetworkError
	if errors.As(err, &networkErr) {
		return http.StatusBadGateway
	}

	var socketErr *discovery.SocketSetupError
	if errors.As(err, &socketErr) {
		return http.StatusServiceUnavailable
	}

	switch {
	case errors.Is(err, transfer.ErrNotFound), errors.Is(err, storage.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, transfer.ErrInvalidFilename):
		return http.StatusBadRequest
	case errors.Is(err, transfer.ErrFileExists),
		errors.Is(err, server.ErrAlreadyRunning),
		errors.Is(err, server.ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
