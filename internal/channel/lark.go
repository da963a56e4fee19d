package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"inspectbot/internal/envelope"
	"inspectbot/internal/metrics"
)

const maxBodyBytes = 1 << 20 // 1MB

// LarkConfig configures the Lark webhook server.
type LarkConfig struct {
	Port     int
	Path     string
	Codec    *envelope.LarkCodec
	Pipeline *Pipeline
	Logger   *slog.Logger
}

// Lark serves the Lark event-subscription callback endpoint.
type Lark struct {
	port     int
	path     string
	codec    *envelope.LarkCodec
	pipeline *Pipeline
	logger   *slog.Logger
	server   *http.Server
}

func NewLark(cfg LarkConfig) *Lark {
	if cfg.Path == "" {
		cfg.Path = "/lark"
	}
	if cfg.Port == 0 {
		cfg.Port = 8081
	}
	return &Lark{
		port:     cfg.Port,
		path:     cfg.Path,
		codec:    cfg.Codec,
		pipeline: cfg.Pipeline,
		logger:   cfg.Logger,
	}
}

func (l *Lark) Name() string { return "lark" }

// Start runs the webhook server until ctx is cancelled.
func (l *Lark) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(l.path, l.handleEvent)

	l.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", l.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	l.logger.Info("lark webhook server starting", "port", l.port, "path", l.path)

	errCh := make(chan error, 1)
	go func() {
		if err := l.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		l.logger.Info("lark webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return l.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("lark webhook server: %w", err)
	}
}

// handleEvent acknowledges every delivery promptly; the platform retries
// within seconds otherwise, and retries only cost dedup work.
func (l *Lark) handleEvent(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	res, err := l.codec.Decode(r.URL.Query(), body)
	if err != nil {
		metrics.AuthFailuresTotal.Inc()
		l.logger.Warn("rejected lark request", "err", err)
		writeJSON(rw, map[string]any{"code": 1, "msg": rejectionMsg(err)})
		return
	}

	if res.Challenge != "" {
		writeJSON(rw, map[string]string{"challenge": res.Challenge})
		return
	}
	if res.Event != nil {
		l.pipeline.HandleEvent(r.Context(), res.Event)
	}

	writeJSON(rw, map[string]any{"code": 0, "msg": "ok"})
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(rw).Encode(v)
}

// rejectionMsg maps codec failures to terse wire messages that leak no
// key material.
func rejectionMsg(err error) string {
	switch {
	case errors.Is(err, envelope.ErrSignatureMismatch):
		return "invalid signature"
	case errors.Is(err, envelope.ErrDecryptionFailed):
		return "decrypt failed"
	case errors.Is(err, envelope.ErrIdentityMismatch):
		return "identity mismatch"
	default:
		return "malformed request"
	}
}
