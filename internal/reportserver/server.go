package reportserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// MaxReportBytes bounds the size of an accepted report body.
const MaxReportBytes = 10 << 20

// Options configures the report handler.
type Options struct {
	// Store receives accepted reports.
	Store *Store

	// Clock timestamps report names. Default: the real clock.
	Clock clock.Clock

	// Logger receives one line per request. Default: slog.Default()
	Logger *slog.Logger
}

// NewHandler returns the report routes wrapped in request id, logging and
// recovery middleware:
//
//	POST /ios-report
//	GET  /healthz
func NewHandler(opts Options) http.Handler {
	if opts.Clock == nil {
		opts.Clock = clock.NewClock()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("POST /ios-report", &reportHandler{store: opts.Store, clock: opts.Clock, log: log})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	return requestIDMiddleware(recoverMiddleware(log, requestLogMiddleware(log, mux)))
}

type reportHandler struct {
	store *Store
	clock clock.Clock
	log   *slog.Logger
}

func (h *reportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxReportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "report too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "read body")
		return
	}

	report, err := ParseReport(data)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	body, err := report.Marshal()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "encode report")
		return
	}

	path, err := h.store.Write(report.FileName(h.clock.Now()), body)
	if err != nil {
		if errors.Is(err, ErrOutsideDataDir) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("store report failed", "request_id", RequestIDFromContext(r.Context()), "error", err)
		writeError(w, r, http.StatusInternalServerError, "store report")
		return
	}

	h.log.Info("report stored",
		"request_id", RequestIDFromContext(r.Context()),
		"path", path,
		"device", report.Device,
		"experiment", report.Experiment,
	)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "OK")
}

// ServerConfig configures Serve.
type ServerConfig struct {
	// ShutdownTimeout bounds graceful shutdown once ctx is done.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// Serve answers requests on ln until ctx is done, then shuts down
// gracefully.
func Serve(ctx context.Context, log *slog.Logger, ln net.Listener, cfg ServerConfig, handler http.Handler) error {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("report server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Info("report server stopped")
		return nil
	})
	return g.Wait()
}

// ListenAndServe listens on addr and calls Serve.
func ListenAndServe(ctx context.Context, log *slog.Logger, addr string, cfg ServerConfig, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return Serve(ctx, log, ln, cfg, handler)
}

type ctxKeyRequestID struct{}

// RequestIDFromContext returns the request id set by the handler's
// middleware, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID{}, id)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func requestLogMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		attrs := []any{
			"request_id", RequestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if sw.status >= 500 {
			log.Error("http request", attrs...)
			return
		}
		log.Info("http request", attrs...)
	})
}

func recoverMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				log.Error("panic recovered", "request_id", RequestIDFromContext(r.Context()), "panic", v)
				writeError(w, r, http.StatusInternalServerError, "internal_server_error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error":      msg,
		"request_id": RequestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
