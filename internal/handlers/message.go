package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/tasukuchiba/message_board/internal/identity"
	"github.com/tasukuchiba/message_board/internal/ledger"
	"github.com/tasukuchiba/message_board/internal/models"
)

// Board はハンドラーが利用する台帳の操作
type Board interface {
	Append(ctx context.Context, author models.Identity, text string) (uint64, error)
	Delete(ctx context.Context, caller models.Identity, id uint64) error
	Snapshot() ([]models.Message, int)
	Count() int
	Get(id uint64) (models.Message, error)
}

// MessageHandler はメッセージ関連のHTTPリクエストを処理する
type MessageHandler struct {
	board  Board
	logger zerolog.Logger
}

// NewMessageHandler は新しいMessageHandlerを作成する
func NewMessageHandler(b Board, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{board: b, logger: logger}
}

// CreateMessageRequest はメッセージ作成リクエストのボディ
type CreateMessageRequest struct {
	Text string `json:"text"`
}

// CreateMessageResponse はメッセージ作成レスポンス
type CreateMessageResponse struct {
	ID uint64 `json:"id"`
}

// MessageResponse はAPIで返すメッセージ。timestamp はUNIX秒
type MessageResponse struct {
	ID        uint64 `json:"id"`
	Author    string `json:"author"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text"`
}

// ListMessagesResponse は一覧レスポンス
type ListMessagesResponse struct {
	Messages []MessageResponse `json:"messages"`
	Count    int               `json:"count"`
}

// CountResponse は件数レスポンス
type CountResponse struct {
	Count int `json:"count"`
}

func toResponse(m models.Message, _ int) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		Author:    string(m.Author),
		Timestamp: m.Timestamp.Unix(),
		Text:      m.Text,
	}
}

// ListMessages は全てのメッセージを投稿順に返す
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	messages, count := h.board.Snapshot()
	writeJSON(w, http.StatusOK, ListMessagesResponse{
		Messages: lo.Map(messages, toResponse),
		Count:    count,
	})
}

// CountMessages は生存しているメッセージ数を返す
func (h *MessageHandler) CountMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CountResponse{Count: h.board.Count()})
}

// GetMessage は指定されたIDのメッセージを返す
func (h *MessageHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	msg, err := h.board.Get(id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(msg, 0))
}

// CreateMessage は署名済みの呼び出し元としてメッセージを投稿する
func (h *MessageHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	author, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// 本文の内容による拒否は行わない（空文字も可）
	id, err := h.board.Append(r.Context(), author, req.Text)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateMessageResponse{ID: id})
}

// DeleteMessage は投稿者本人の場合に限りメッセージを削除する
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.board.Delete(r.Context(), caller, id); err != nil {
		h.writeLedgerError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseID はURLのメッセージIDを解釈する
func parseID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Message ID is required")
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid message ID")
		return 0, false
	}
	return id, true
}

// writeLedgerError は台帳のエラーをHTTPステータスに対応付ける
func (h *MessageHandler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "Message not found")
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "Only the author may delete this message")
	default:
		h.logger.Error().Err(err).Msg("ledger operation failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
