// Package api exposes the drive operations over HTTP. The tenant is identified by the
// X-User-ID header, which the authentication layer in front of this service sets.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/objectfs/clouddrive/internal/resource"
	"github.com/objectfs/clouddrive/pkg/errors"
	"github.com/objectfs/clouddrive/pkg/health"
	"github.com/objectfs/clouddrive/pkg/types"
)

// UserIDHeader carries the authenticated tenant id
const UserIDHeader = "X-User-ID"

// uploadField is the multipart field holding uploaded files
const uploadField = "object"

// Directories is the folder engine behind /api/directory
type Directories interface {
	CreateRoot(ctx context.Context, userID int64) error
	Create(ctx context.Context, userID int64, path string) (types.Resource, error)
	List(ctx context.Context, userID int64, path string, mode types.TraversalMode) ([]types.Resource, error)
}

// Resources is the resource engine behind /api/resource
type Resources interface {
	Info(ctx context.Context, userID int64, path string) (types.Resource, error)
	Upload(ctx context.Context, userID int64, targetDir string, files []types.UploadFile) ([]types.Resource, error)
	Delete(ctx context.Context, userID int64, path string) error
	Download(ctx context.Context, userID int64, path string) (*resource.Download, error)
	Move(ctx context.Context, userID int64, from, to string) (types.Resource, error)
	Search(ctx context.Context, userID int64, query string) ([]types.Resource, error)
}

// Server serves the drive API
type Server struct {
	httpServer *http.Server
	dirs       Directories
	resources  Resources
	health     *health.Tracker
	metrics    http.Handler
	logger     *slog.Logger
	config     ServerConfig
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., ":8080")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response. Zero leaves large
	// downloads unbounded.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// MaxUploadMemory is the part of a multipart upload kept in memory; the rest spills to disk
	MaxUploadMemory int64 `yaml:"max_upload_memory" json:"max_upload_memory"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:         ":8080",
		ReadTimeout:     30 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxUploadMemory: 32 << 20,
		EnableCORS:      false,
	}
}

// Option customizes a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthTracker serves /health from tracker and feeds it request outcomes
func WithHealthTracker(tracker *health.Tracker) Option {
	return func(s *Server) {
		s.health = tracker
	}
}

// WithMetricsHandler serves /metrics from handler
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = handler
	}
}

// NewServer creates a new API server
func NewServer(config ServerConfig, dirs Directories, resources Resources, opts ...Option) *Server {
	s := &Server{
		dirs:      dirs,
		resources: resources,
		config:    config,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "api")
	if s.config.MaxUploadMemory <= 0 {
		s.config.MaxUploadMemory = DefaultServerConfig().MaxUploadMemory
	}

	mux := http.NewServeMux()

	// Resource endpoints
	mux.HandleFunc("GET /api/resource", s.handleInfo)
	mux.HandleFunc("DELETE /api/resource", s.handleDelete)
	mux.HandleFunc("POST /api/resource", s.handleUpload)
	mux.HandleFunc("GET /api/resource/download", s.handleDownload)
	mux.HandleFunc("GET /api/resource/move", s.handleMove)
	mux.HandleFunc("GET /api/resource/search", s.handleSearch)

	// Directory endpoints
	mux.HandleFunc("GET /api/directory", s.handleListDirectory)
	mux.HandleFunc("POST /api/directory", s.handleCreateDirectory)
	mux.HandleFunc("POST /api/tenants", s.handleCreateTenant)

	// Health and metrics
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/components", s.handleHealthComponents)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	handler := s.loggingMiddleware(mux)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Handler returns the root handler including middleware
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("starting API server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Resource handlers

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	res, err := s.resources.Info(r.Context(), userID, r.URL.Query().Get("path"))
	s.reply(w, r, http.StatusOK, res, err)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok || !s.writable(w) {
		return
	}
	err := s.resources.Delete(r.Context(), userID, r.URL.Query().Get("path"))
	s.reply(w, r, http.StatusNoContent, nil, err)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok || !s.writable(w) {
		return
	}

	if err := r.ParseMultipartForm(s.config.MaxUploadMemory); err != nil {
		s.respondError(w, r, errors.InvalidPath("malformed multipart upload: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File[uploadField]
	files := make([]types.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.respondError(w, r, errors.Newf(errors.ErrCodeInternalError, "failed to open upload part").WithCause(err))
			return
		}
		defer f.Close()
		files = append(files, types.UploadFile{
			Name:        rawFilename(fh),
			Size:        fh.Size,
			ContentType: fh.Header.Get("Content-Type"),
			Body:        f,
		})
	}

	uploaded, err := s.resources.Upload(r.Context(), userID, r.URL.Query().Get("path"), files)
	s.reply(w, r, http.StatusCreated, uploaded, err)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	d, err := s.resources.Download(r.Context(), userID, r.URL.Query().Get("path"))
	if err != nil {
		s.track(err)
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(d.Name))
	if d.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(d.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	// headers are gone, so a failure can only be logged and the connection cut short
	if _, err := d.Stream(r.Context(), w); err != nil {
		s.track(err)
		s.logger.Error("download aborted", "user_id", userID, "name", d.Name, "error", err)
	}
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok || !s.writable(w) {
		return
	}
	q := r.URL.Query()
	res, err := s.resources.Move(r.Context(), userID, q.Get("from"), q.Get("to"))
	s.reply(w, r, http.StatusOK, res, err)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	found, err := s.resources.Search(r.Context(), userID, r.URL.Query().Get("query"))
	s.reply(w, r, http.StatusOK, found, err)
}

// Directory handlers

func (s *Server) handleListDirectory(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	listing, err := s.dirs.List(r.Context(), userID, r.URL.Query().Get("path"), types.NonRecursive)
	s.reply(w, r, http.StatusOK, listing, err)
}

func (s *Server) handleCreateDirectory(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok || !s.writable(w) {
		return
	}
	res, err := s.dirs.Create(r.Context(), userID, r.URL.Query().Get("path"))
	s.reply(w, r, http.StatusCreated, res, err)
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok || !s.writable(w) {
		return
	}
	err := s.dirs.CreateRoot(r.Context(), userID)
	s.reply(w, r, http.StatusCreated, map[string]int64{"user_id": userID}, err)
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status":    health.StateHealthy,
			"timestamp": time.Now(),
		})
		return
	}

	overall := s.health.GetOverallHealth()
	statusCode := http.StatusOK
	if overall == health.StateUnavailable {
		statusCode = http.StatusServiceUnavailable
	}
	s.respondJSON(w, statusCode, map[string]interface{}{
		"status":     overall,
		"timestamp":  time.Now(),
		"components": len(s.health.GetAllComponents()),
	})
}

func (s *Server) handleHealthComponents(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.respondJSON(w, http.StatusOK, []health.ComponentHealth{})
		return
	}
	s.respondJSON(w, http.StatusOK, s.health.GetAllComponents())
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"user_id", r.Header.Get(UserIDHeader))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UserIDHeader)
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get(UserIDHeader)
	userID, err := strconv.ParseInt(raw, 10, 64)
	if raw == "" || err != nil || userID <= 0 {
		s.respondError(w, r, errors.NewError(errors.ErrCodeUnauthenticated, "missing or invalid user id"))
		return 0, false
	}
	return userID, true
}

func (s *Server) writable(w http.ResponseWriter) bool {
	if s.health == nil || s.health.CanWrite() {
		return true
	}
	s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
		"message": "drive is read-only, try again later",
	})
	return false
}

// track feeds request outcomes into the health tracker
func (s *Server) track(err error) {
	if s.health == nil {
		return
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeStorageOperation:
		s.health.RecordError("storage", err)
	case errors.ErrCodeLockTimeout:
		s.health.RecordError("lock", err)
	}
	// the lock component only recovers through its probe
	if err == nil {
		s.health.RecordSuccess("storage")
	}
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}, err error) {
	s.track(err)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if statusCode == http.StatusNoContent {
		w.WriteHeader(statusCode)
		return
	}
	s.respondJSON(w, statusCode, data)
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := errors.HTTPStatusOf(err)
	message := "internal error"
	if de, ok := errors.As(err); ok && statusCode < http.StatusInternalServerError {
		message = de.Message
	}

	if statusCode >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "code", errors.CodeOf(err), "error", err)
	}

	s.respondJSON(w, statusCode, map[string]string{"message": message})
}

// rawFilename returns the filename parameter as sent. FileHeader.Filename keeps only the
// base name, which would flatten folder uploads.
func rawFilename(fh *multipart.FileHeader) string {
	if _, params, err := mime.ParseMediaType(fh.Header.Get("Content-Disposition")); err == nil {
		if name, ok := params["filename"]; ok {
			return name
		}
	}
	return fh.Filename
}
