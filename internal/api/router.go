package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/tasukuchiba/message_board/internal/handlers"
	"github.com/tasukuchiba/message_board/internal/identity"
	"github.com/tasukuchiba/message_board/internal/websocket"
)

// NewRouter はHTTPルーターを構成する
func NewRouter(logger zerolog.Logger, board handlers.Board, hub *websocket.Hub, verifier *identity.Verifier) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(recordMetrics)

	// 公開掲示板なので全オリジンを許可
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type",
			identity.HeaderIdentity, identity.HeaderNonce, identity.HeaderTimestamp, identity.HeaderSignature},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	messageHandler := handlers.NewMessageHandler(board, logger)

	r.Handle("/metrics", promhttp.Handler())

	// ヘルスチェック用エンドポイント
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// WebSocketエンドポイント（変更通知）
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(hub, w, r)
	})

	r.Route("/messages", func(r chi.Router) {
		// 読み取りは誰でも可能
		r.Get("/", messageHandler.ListMessages)
		r.Get("/count", messageHandler.CountMessages)
		r.Get("/{id}", messageHandler.GetMessage)

		// 書き込みは署名が必要
		r.Group(func(r chi.Router) {
			r.Use(verifier.RequireSignature)
			r.Post("/", messageHandler.CreateMessage)
			r.Delete("/{id}", messageHandler.DeleteMessage)
		})
	})

	return r
}
