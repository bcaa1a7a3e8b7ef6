package websocket

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/tasukuchiba/message_board/internal/ledger"
	"github.com/tasukuchiba/message_board/internal/metrics"
)

// Source は変更通知の購読元
type Source interface {
	Subscribe() *ledger.Subscription
}

// Hub は全WebSocketクライアントの接続を管理し、台帳の変更を通知する
type Hub struct {
	// 接続中のクライアント
	clients map[*Client]bool

	// クライアント登録用チャネル
	register chan *Client

	// クライアント登録解除用チャネル
	unregister chan *Client

	// 台帳の変更通知
	sub *ledger.Subscription

	// Run終了時にクローズされる
	done chan struct{}

	count  atomic.Int64
	logger zerolog.Logger
}

// Event はクライアントへ送信するイベントの形式。ペイロードは持たない
type Event struct {
	Type string `json:"type"`
}

// NewHub は新しいHubを作成し、source の購読を開始する
func NewHub(source Source, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		sub:        source.Subscribe(),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run はHubのメインループを開始する。ctx が終了すると全クライアントを切断する
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.sub.Close()

	payload, _ := json.Marshal(Event{Type: ledger.EventMessageUpdated})

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.count.Add(1)
			metrics.FeedClients.Inc()
			h.logger.Info().Str("client", client.id).Int("total", len(h.clients)).Msg("client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(client)
				h.logger.Info().Str("client", client.id).Int("total", len(h.clients)).Msg("client unregistered")
			}

		case _, ok := <-h.sub.C():
			if !ok {
				return
			}
			h.broadcast(payload)
		}
	}
}

// broadcast は全クライアントに送信する。送信バッファが溢れたクライアントは切断する
func (h *Hub) broadcast(message []byte) {
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			h.logger.Warn().Str("client", client.id).Msg("dropping slow client")
			h.remove(client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.count.Add(-1)
	metrics.FeedClients.Dec()
}

// ClientCount は接続中のクライアント数を返す
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}
