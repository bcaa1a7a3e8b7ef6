package ledger

import (
	"errors"
	"fmt"

	"github.com/tasukuchiba/message_board/internal/models"
)

var (
	// ErrNotFound は生存しているメッセージが存在しない場合のエラー
	ErrNotFound = errors.New("message not found")

	// ErrUnauthorized は投稿者以外が削除しようとした場合のエラー
	ErrUnauthorized = errors.New("only the author may delete a message")
)

// NotFoundError は対象IDのメッセージが存在しないことを表す
type NotFoundError struct {
	ID uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("message %d: %v", e.ID, ErrNotFound)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// AuthorizationError は呼び出し元が投稿者ではないことを表す
type AuthorizationError struct {
	ID     uint64
	Caller models.Identity
	Author models.Identity
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("message %d: caller %s: %v", e.ID, e.Caller, ErrUnauthorized)
}

func (e *AuthorizationError) Is(target error) bool {
	return target == ErrUnauthorized
}
