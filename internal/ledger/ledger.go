// Package ledger は掲示板の台帳（メッセージの追加・削除・列挙と変更通知）を管理する
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tasukuchiba/message_board/internal/metrics"
	"github.com/tasukuchiba/message_board/internal/models"
	"github.com/tasukuchiba/message_board/internal/storage"
)

// Ledger はメッセージの唯一の保持者。全ての書き込みは1つのロックで直列化される
type Ledger struct {
	mu sync.RWMutex

	// 投稿順に並んだ生存メッセージ
	messages []models.Message

	// ID から messages 内の位置への索引
	index map[uint64]int

	// 次に割り当てるID。減ることはない
	nextID uint64

	storage storage.Storage
	feed    *Feed
	logger  zerolog.Logger
	now     func() time.Time
}

// Option はLedgerの設定を変更する
type Option func(*Ledger)

// WithLogger はロガーを設定する
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock は時刻の取得元を差し替える
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New は store に保存済みの状態を読み込んでLedgerを作成する
func New(ctx context.Context, store storage.Storage, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		index:   make(map[uint64]int),
		storage: store,
		feed:    NewFeed(),
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	l.nextID = snap.NextID
	l.messages = make([]models.Message, 0, len(snap.Messages))
	for _, msg := range snap.Messages {
		if _, dup := l.index[msg.ID]; dup {
			return nil, fmt.Errorf("load ledger: duplicate message id %d", msg.ID)
		}
		if msg.ID >= l.nextID {
			l.nextID = msg.ID + 1
		}
		l.index[msg.ID] = len(l.messages)
		l.messages = append(l.messages, msg)
	}
	metrics.LiveMessages.Set(float64(len(l.messages)))

	l.logger.Info().
		Int("messages", len(l.messages)).
		Uint64("next_id", l.nextID).
		Msg("ledger loaded")
	return l, nil
}

// Append はメッセージを末尾に追加し、割り当てたIDを返す。本文の検証は行わない
func (l *Ledger) Append(ctx context.Context, author models.Identity, text string) (uint64, error) {
	l.mu.Lock()
	msg := models.Message{
		ID:        l.nextID,
		Author:    author,
		Timestamp: l.now().UTC(),
		Text:      text,
	}
	if err := l.storage.Save(ctx, msg); err != nil {
		l.mu.Unlock()
		return 0, fmt.Errorf("save message %d: %w", msg.ID, err)
	}
	l.nextID++
	l.index[msg.ID] = len(l.messages)
	l.messages = append(l.messages, msg)
	live := len(l.messages)
	l.mu.Unlock()

	metrics.LedgerAppends.Inc()
	metrics.LiveMessages.Set(float64(live))
	l.logger.Debug().Uint64("id", msg.ID).Str("author", string(author)).Msg("message appended")

	l.feed.Publish()
	return msg.ID, nil
}

// Delete は caller が投稿者である場合に限りメッセージを削除する
func (l *Ledger) Delete(ctx context.Context, caller models.Identity, id uint64) error {
	l.mu.Lock()
	pos, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		metrics.LedgerDeletesRejected.WithLabelValues("not_found").Inc()
		return &NotFoundError{ID: id}
	}
	msg := l.messages[pos]
	if msg.Author != caller {
		l.mu.Unlock()
		metrics.LedgerDeletesRejected.WithLabelValues("unauthorized").Inc()
		return &AuthorizationError{ID: id, Caller: caller, Author: msg.Author}
	}
	if err := l.storage.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		l.mu.Unlock()
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	l.removeAt(pos)
	live := len(l.messages)
	l.mu.Unlock()

	metrics.LedgerDeletes.Inc()
	metrics.LiveMessages.Set(float64(live))
	l.logger.Debug().Uint64("id", id).Str("author", string(caller)).Msg("message deleted")

	l.feed.Publish()
	return nil
}

// removeAt は pos の要素を取り除き、後続の索引を詰める。呼び出し側が書き込みロックを持つこと
func (l *Ledger) removeAt(pos int) {
	delete(l.index, l.messages[pos].ID)
	copy(l.messages[pos:], l.messages[pos+1:])
	l.messages[len(l.messages)-1] = models.Message{}
	l.messages = l.messages[:len(l.messages)-1]
	for i := pos; i < len(l.messages); i++ {
		l.index[l.messages[i].ID] = i
	}
}

// ListAll は生存しているメッセージを投稿順に返す
func (l *Ledger) ListAll() []models.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result := make([]models.Message, len(l.messages))
	copy(result, l.messages)
	return result
}

// Count は生存しているメッセージ数を返す
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Snapshot は同一時点の一覧と件数を返す
func (l *Ledger) Snapshot() ([]models.Message, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result := make([]models.Message, len(l.messages))
	copy(result, l.messages)
	return result, len(result)
}

// Get は指定されたIDのメッセージを返す
func (l *Ledger) Get(id uint64) (models.Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.index[id]
	if !ok {
		return models.Message{}, &NotFoundError{ID: id}
	}
	return l.messages[pos], nil
}

// Subscribe は変更通知の購読を開始する
func (l *Ledger) Subscribe() *Subscription {
	return l.feed.Subscribe()
}
