// Package client は掲示板サーバーへ署名付きリクエストを送るクライアント
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tasukuchiba/message_board/internal/handlers"
	"github.com/tasukuchiba/message_board/internal/identity"
	"github.com/tasukuchiba/message_board/internal/ledger"
	"github.com/tasukuchiba/message_board/internal/models"
)

// Message はサーバーが返すメッセージ
type Message = handlers.MessageResponse

// APIError はサーバーがエラーステータスを返したときのエラー
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("board error %d: %s", e.Status, e.Message)
}

// Is は404と403を台帳のエラーに対応付ける
func (e *APIError) Is(target error) bool {
	switch target {
	case ledger.ErrNotFound:
		return e.Status == http.StatusNotFound
	case ledger.ErrUnauthorized:
		return e.Status == http.StatusForbidden
	}
	return false
}

// Client は掲示板APIのクライアント
type Client struct {
	baseURL    string
	key        ed25519.PrivateKey
	httpClient *http.Client
	dialer     *websocket.Dialer
	now        func() time.Time
}

// Option はClientの設定を変更する
type Option func(*Client)

// WithHTTPClient は使用するhttp.Clientを差し替える
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock は署名に使う時刻の取得元を差し替える
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New はクライアントを作成する。keyがnilなら読み取り専用
func New(baseURL string, key ed25519.PrivateKey, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     websocket.DefaultDialer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity はこのクライアントの呼び出し元IDを返す
func (c *Client) Identity() models.Identity {
	if c.key == nil {
		return ""
	}
	return identity.Of(c.key.Public().(ed25519.PublicKey))
}

// Post はメッセージを投稿し、割り当てられたIDを返す
func (c *Client) Post(ctx context.Context, text string) (uint64, error) {
	body, err := json.Marshal(handlers.CreateMessageRequest{Text: text})
	if err != nil {
		return 0, err
	}

	var resp handlers.CreateMessageResponse
	if err := c.do(ctx, http.MethodPost, "/messages", body, true, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// Delete は自分のメッセージを削除する
func (c *Client) Delete(ctx context.Context, id uint64) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+strconv.FormatUint(id, 10), nil, true, nil)
}

// List は全メッセージと件数を取得する
func (c *Client) List(ctx context.Context) ([]Message, int, error) {
	var resp handlers.ListMessagesResponse
	if err := c.do(ctx, http.MethodGet, "/messages", nil, false, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Messages, resp.Count, nil
}

// Count は件数を取得する
func (c *Client) Count(ctx context.Context) (int, error) {
	var resp handlers.CountResponse
	if err := c.do(ctx, http.MethodGet, "/messages/count", nil, false, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Get はIDでメッセージを1件取得する
func (c *Client) Get(ctx context.Context, id uint64) (Message, error) {
	var resp Message
	if err := c.do(ctx, http.MethodGet, "/messages/"+strconv.FormatUint(id, 10), nil, false, &resp); err != nil {
		return Message{}, err
	}
	return resp, nil
}

// Watch は変更通知を受けるたびにonChangeを呼ぶ。ctxが終了するか接続が切れるまで戻らない
func (c *Client) Watch(ctx context.Context, onChange func()) error {
	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial change feed: %w", err)
	}
	defer conn.Close()

	// ctx終了で読み取りを解除する
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var event struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read change feed: %w", err)
		}
		if event.Type == ledger.EventMessageUpdated {
			onChange()
		}
	}
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// do はリクエストを送り、成功時はレスポンスをoutにデコードする
func (c *Client) do(ctx context.Context, method, path string, body []byte, signed bool, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		if c.key == nil {
			return errors.New("a private key is required for signed requests")
		}
		// サーバーはURLのパス部分を署名対象にする
		identity.Sign(c.key, method, req.URL.Path, body, uuid.NewString(), c.now()).Apply(req.Header)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}
