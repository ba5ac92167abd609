package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tipr/internal/domain"
	"tipr/internal/infra/codec"
	"tipr/internal/infra/telemetry"
)

// maxHTTPBody bounds a single envelope delivered over HTTP.
const maxHTTPBody = 16 << 20

// HTTPHandler exposes the dispatcher over HTTP: one envelope per POST body,
// one envelope per response body. Notifications return 202 with no body.
// Cancellation is not available on this surface; each exchange carries its
// own deadline instead.
func (s *Server) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		meta := domain.ConnMeta{
			Transport:  "http",
			RemoteAddr: r.RemoteAddr,
			Headers:    flattenHeaders(r.Header),
		}
		if err := s.auth.Authenticate(r.Context(), meta); err != nil {
			s.logger.Warn("request rejected",
				telemetry.EventField(telemetry.EventConnRejected),
				zap.String("remote", r.RemoteAddr),
				zap.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxHTTPBody))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		env, err := codec.Decode(body)
		if err != nil {
			s.writeEnvelope(w, s.salvageProtocolError(body, err))
			return
		}

		switch env.Kind {
		case domain.KindRequest:
			if s.isDraining() {
				s.writeEnvelope(w, domain.NewErrorEnvelope(env.ID, domain.CodeCancelled, "server is draining"))
				return
			}
			s.inflight.Add(1)
			reply := s.dispatcher.dispatch(r.Context(), env, nil)
			s.inflight.Done()
			s.writeEnvelope(w, reply)
		case domain.KindNotification:
			w.WriteHeader(http.StatusAccepted)
		default:
			s.writeEnvelope(w, domain.NewErrorEnvelope(env.ID, domain.CodeProtocolError, "unexpected inbound kind: "+string(env.Kind)))
		}
	})
}

// ListenAndServe runs the HTTP surface on the configured listen address
// until ctx is cancelled, then drains before returning.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/rpc", s.HTTPHandler())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("protocol server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	drainErr := s.Shutdown(context.Background())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return drainErr
}

func (s *Server) isDraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

func (s *Server) salvageProtocolError(body []byte, cause error) domain.Envelope {
	var probe struct {
		ID string `json:"id"`
	}
	id := "unknown"
	if json.Unmarshal(body, &probe) == nil && probe.ID != "" {
		id = probe.ID
	}
	return domain.NewErrorEnvelope(id, domain.CodeProtocolError, cause.Error())
}

func (s *Server) writeEnvelope(w http.ResponseWriter, env domain.Envelope) {
	frame, err := codec.Encode(env)
	if err != nil {
		s.logger.Error("encode reply", telemetry.CallIDField(env.ID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(frame)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key := range h {
		out[key] = h.Get(key)
	}
	return out
}
