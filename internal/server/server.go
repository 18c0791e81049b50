package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/go-gst/internal/config"
	"github.com/example/go-gst/internal/gst"
	"github.com/example/go-gst/internal/runtime/tensor"
)

// RequestIDHeader carries the per-request UUID in both directions.
const RequestIDHeader = "X-Request-ID"

// ParseLogLevel accepts the slog level names in any case, plus "warning".
// An empty string selects info.
func ParseLogLevel(s string) (slog.Level, error) {
	var lvl slog.Level

	switch name := strings.ToLower(strings.TrimSpace(s)); name {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	case "debug", "info", "warn", "error":
		if err := lvl.UnmarshalText([]byte(name)); err == nil {
			return lvl, nil
		}
	}

	return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
}

// Embedder computes style embeddings. Implementations must be safe for
// concurrent use.
type Embedder interface {
	// Embed maps a [N, F, T] contour batch to a [N, E] style embedding and
	// the attention scores over the style tokens.
	Embed(ctx context.Context, contours *tensor.Tensor) (style, scores *tensor.Tensor, err error)
	// Infer maps token weights ([T] or [B, T]) to a [B, E] style embedding.
	Infer(ctx context.Context, weights *tensor.Tensor) (*tensor.Tensor, error)
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	workers        int
	requestTimeout time.Duration
	maxBatch       int
	maxFrames      int
	maxBodyBytes   int64
	backend        string
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		workers:        2,
		requestTimeout: 30 * time.Second,
		maxBatch:       32,
		maxFrames:      4000,
		maxBodyBytes:   32 << 20,
		backend:        config.BackendNative,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithWorkers sets the maximum number of concurrent model calls. Zero
// disables throttling.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request model deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithMaxBatch caps the number of contours in one /v1/embed request.
func WithMaxBatch(n int) Option {
	return func(o *options) { o.maxBatch = n }
}

// WithMaxFrames caps the contour length T in one /v1/embed request.
func WithMaxFrames(n int) Option {
	return func(o *options) { o.maxFrames = n }
}

// WithMaxBodyBytes caps the request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) { o.maxBodyBytes = n }
}

// WithBackend sets the backend name reported by /health.
func WithBackend(name string) Option {
	return func(o *options) { o.backend = name }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	emb  Embedder
	opts options
	sem  chan struct{} // semaphore for worker pool
	log  *slog.Logger
}

// NewHandler returns an http.Handler that serves GET /health,
// POST /v1/embed and POST /v1/inference.
func NewHandler(emb Embedder, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		emb:  emb,
		opts: opts,
		log:  opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/v1/embed", h.handleEmbed)
	mux.HandleFunc("/v1/inference", h.handleInference)

	return withRequestID(mux)
}

type requestIDKey struct{}

// RequestID returns the request ID stored in ctx by the handler, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withRequestID keeps a well-formed client UUID and mints one otherwise.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}

	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Health{Status: "ok", Version: buildVersion(), Backend: h.opts.backend})
}

type embedRequest struct {
	Contours [][][]float32 `json:"contours"`
}

type embedResponse struct {
	Style  any `json:"style"`
	Scores any `json:"scores"`
}

func (h *handler) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if !h.decode(w, r, &req) {
		return
	}

	if len(req.Contours) == 0 {
		writeError(w, http.StatusBadRequest, "contours field is required")
		return
	}

	if h.opts.maxBatch > 0 && len(req.Contours) > h.opts.maxBatch {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("batch of %d contours exceeds maximum of %d", len(req.Contours), h.opts.maxBatch))
		return
	}

	contours, err := contourBatch(req.Contours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.opts.maxFrames > 0 && contours.Dim(2) > int64(h.opts.maxFrames) {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("contour length %d exceeds maximum of %d frames", contours.Dim(2), h.opts.maxFrames))
		return
	}

	var style, scores *tensor.Tensor

	attrs := []slog.Attr{
		slog.Int64("batch", contours.Dim(0)),
		slog.Int64("bands", contours.Dim(1)),
		slog.Int64("frames", contours.Dim(2)),
	}

	ok := h.call(w, r, "embed", attrs, func(ctx context.Context) error {
		var err error
		style, scores, err = h.emb.Embed(ctx, contours)

		return err
	})
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, embedResponse{Style: nested(style), Scores: nested(scores)})
}

type inferenceRequest struct {
	Weights json.RawMessage `json:"weights"`
}

type inferenceResponse struct {
	Style any `json:"style"`
}

func (h *handler) handleInference(w http.ResponseWriter, r *http.Request) {
	var req inferenceRequest
	if !h.decode(w, r, &req) {
		return
	}

	if len(req.Weights) == 0 {
		writeError(w, http.StatusBadRequest, "weights field is required")
		return
	}

	weights, err := weightTensor(req.Weights)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var style *tensor.Tensor

	attrs := []slog.Attr{slog.Any("weights_shape", weights.Shape())}

	ok := h.call(w, r, "inference", attrs, func(ctx context.Context) error {
		var err error
		style, err = h.emb.Infer(ctx, weights)

		return err
	})
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, inferenceResponse{Style: nested(style)})
}

// decode enforces POST and a bounded JSON body.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}

	if r.Body == nil || r.Body == http.NoBody {
		writeError(w, http.StatusBadRequest, "request body is required")
		return false
	}

	body := http.MaxBytesReader(w, r.Body, h.opts.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}

		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())

		return false
	}

	return true
}

// call runs fn under the worker semaphore and request timeout, logs the
// outcome and writes an error response on failure.
func (h *handler) call(w http.ResponseWriter, r *http.Request, op string, attrs []slog.Attr, fn func(ctx context.Context) error) bool {
	ctx := r.Context()

	// Acquire a worker slot, honouring cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return false
		}

		slot := newWorkerSlot(h.sem)
		defer slot.done()

		ctx = withWorkerSlot(ctx, slot)
	}

	if h.opts.requestTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, h.opts.requestTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)

	attrs = append(attrs,
		slog.String("op", op),
		slog.String("request_id", RequestID(r.Context())),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))

		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			h.log.LogAttrs(r.Context(), slog.LevelWarn, op+" timed out", attrs...)
			writeError(w, http.StatusGatewayTimeout, op+" timed out")
		case errors.Is(err, gst.ErrShape) || errors.Is(err, gst.ErrDegenerateBatch):
			h.log.LogAttrs(r.Context(), slog.LevelInfo, op+" rejected", attrs...)
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.LogAttrs(r.Context(), slog.LevelError, op+" failed", attrs...)
			writeError(w, http.StatusInternalServerError, err.Error())
		}

		return false
	}

	h.log.LogAttrs(r.Context(), slog.LevelInfo, op+" complete", attrs...)

	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	emb             Embedder
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func New(cfg config.Config, emb Embedder) *Server {
	timeout := 30 * time.Second
	if cfg.Server.ShutdownTimeout > 0 {
		timeout = time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	}

	return &Server{
		cfg:             cfg,
		emb:             emb,
		logger:          slog.Default(),
		shutdownTimeout: timeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// WithLogger overrides the request logger.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

// Handler builds the HTTP handler from the server configuration.
func (s *Server) Handler() (http.Handler, error) {
	if s.emb == nil {
		return nil, errors.New("server: no embedder configured")
	}

	backend, err := config.NormalizeBackend(s.cfg.Backend)
	if err != nil {
		return nil, err
	}

	return NewHandler(s.emb,
		WithWorkers(s.cfg.Server.Workers),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second),
		WithMaxBatch(s.cfg.Server.MaxBatch),
		WithMaxFrames(s.cfg.Server.MaxFrames),
		WithBackend(backend),
		WithLogger(s.logger),
	), nil
}

func (s *Server) Start(ctx context.Context) error {
	h, err := s.Handler()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("listening", slog.String("addr", s.cfg.Server.ListenAddr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}

		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http listen: %w", err)
	}
}

// Health is the body served on /health.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend"`
}

// FetchHealth reads /health from the server at addr. A non-200 answer or a
// status other than "ok" is an error.
func FetchHealth(ctx context.Context, addr string) (Health, error) {
	var hl Health

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return hl, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return hl, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return hl, fmt.Errorf("unexpected health status: %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(&hl); err != nil {
		return hl, fmt.Errorf("decode health from %s: %w", addr, err)
	}

	if hl.Status != "ok" {
		return hl, fmt.Errorf("server at %s reports status %q", addr, hl.Status)
	}

	return hl, nil
}

// ProbeHTTP checks that a server at addr answers /health with 200.
func ProbeHTTP(addr string) error {
	_, err := FetchHealth(context.Background(), addr)
	return err
}
