package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"inspectbot/internal/envelope"
	"inspectbot/internal/metrics"
)

// WeComConfig configures the WeCom callback server.
type WeComConfig struct {
	Port     int
	Path     string
	Codec    *envelope.WeComCodec
	Pipeline *Pipeline
	Logger   *slog.Logger
}

// WeCom serves the WeCom application callback endpoint. The GET path
// answers the console's URL verification handshake; POST carries
// encrypted message envelopes.
type WeCom struct {
	port     int
	path     string
	codec    *envelope.WeComCodec
	pipeline *Pipeline
	logger   *slog.Logger
	server   *http.Server
}

func NewWeCom(cfg WeComConfig) *WeCom {
	if cfg.Path == "" {
		cfg.Path = "/wecom"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	return &WeCom{
		port:     cfg.Port,
		path:     cfg.Path,
		codec:    cfg.Codec,
		pipeline: cfg.Pipeline,
		logger:   cfg.Logger,
	}
}

func (w *WeCom) Name() string { return "wecom" }

// Start runs the callback server until ctx is cancelled.
func (w *WeCom) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handle)

	w.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", w.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("wecom callback server starting", "port", w.port, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("wecom callback server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("wecom callback server: %w", err)
	}
}

func (w *WeCom) handle(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.handleVerify(rw, r)
	case http.MethodPost:
		w.handleMessage(rw, r)
	default:
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerify answers the console handshake: the decrypted echostr is
// returned as plain text, anything invalid gets a bare "error" body.
func (w *WeCom) handleVerify(rw http.ResponseWriter, r *http.Request) {
	res, err := w.codec.Decode(r.URL.Query(), nil)
	if err != nil {
		metrics.AuthFailuresTotal.Inc()
		w.logger.Warn("rejected wecom verification", "err", err)
		io.WriteString(rw, "error")
		return
	}
	io.WriteString(rw, res.Challenge)
}

func (w *WeCom) handleMessage(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	res, err := w.codec.Decode(r.URL.Query(), body)
	if err != nil {
		metrics.AuthFailuresTotal.Inc()
		w.logger.Warn("rejected wecom request", "err", err)
		rw.WriteHeader(http.StatusUnauthorized)
		io.WriteString(rw, "error")
		return
	}

	if res.Event != nil {
		w.pipeline.HandleEvent(r.Context(), res.Event)
	}

	// Replies go out through the application API, not the callback
	// response, so the body only needs to acknowledge receipt.
	io.WriteString(rw, "success")
}
