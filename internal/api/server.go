package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notifyq/internal/domain"
	"notifyq/internal/ports"
	"notifyq/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type notifyReq struct {
	UserID      string            `json:"user_id"`
	MessageType string            `json:"message_type"`
	Data        map[string]string `json:"data"`
}

type directReq struct {
	UserID  string `json:"user_id"`
	Tenant  string `json:"tenant_id"`
	Channel string `json:"channel"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type Server struct {
	router *chi.Mux
}

func NewServer(dispatcher *usecase.Dispatcher, dlq ports.DeadLetterStore) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/notifications", func(w http.ResponseWriter, req *http.Request) {
		var body notifyReq
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := dispatcher.SendNotification(req.Context(), body.UserID, body.MessageType, body.Data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		// Queued mode acknowledges acceptance only; delivery failures
		// surface through dead-letter stats and alerts.
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	r.Post("/notifications/direct", func(w http.ResponseWriter, req *http.Request) {
		var body directReq
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		msg := domain.Message{UserID: body.UserID, TenantID: body.Tenant, Subject: body.Subject, Body: body.Body}
		if err := dispatcher.ProcessNotification(req.Context(), body.UserID, msg, body.Channel); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
	})

	r.Get("/dlq/stats", func(w http.ResponseWriter, req *http.Request) {
		stats, err := dlq.Stats(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	r.Post("/dlq/replay", func(w http.ResponseWriter, req *http.Request) {
		count, err := dlq.ReplayAll(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"replayed": count})
	})

	return &Server{router: r}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Run serves HTTP on the given port until SIGINT/SIGTERM, then shuts down
// gracefully with a 30s deadline.
func (s *Server) Run(port int) {
	addr := fmt.Sprintf(":%d", port)

	httpServer := http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Fatal().Err(err).Msg("Server forced to shutdown")
		}

		close(done)
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Failed to listen and serve")
	}

	<-done
	log.Info().Msg("Server stopped")
}
