package storage

import (
	"context"
	"errors"

	"github.com/tasukuchiba/message_board/internal/models"
)

// ErrNotFound はメッセージが見つからない場合のエラー
var ErrNotFound = errors.New("message not found")

// Snapshot は永続化された台帳の状態
type Snapshot struct {
	// 生存しているメッセージ（ID昇順 = 投稿順）
	Messages []models.Message

	// 次に割り当てるID
	NextID uint64
}

// Storage は台帳の永続化先のインターフェース
type Storage interface {
	// Load は保存済みのメッセージとIDカウンタを読み込む
	Load(ctx context.Context) (Snapshot, error)

	// Save はメッセージを保存し、カウンタを msg.ID+1 まで進める
	Save(ctx context.Context, msg models.Message) error

	// Delete は指定されたIDのメッセージを削除する
	Delete(ctx context.Context, id uint64) error

	// Close はリソースを解放する
	Close() error
}

// advance はカウンタを後退させずに next まで進める
func advance(current, next uint64) uint64 {
	if next > current {
		return next
	}
	return current
}
