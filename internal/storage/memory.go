package storage

import (
	"context"
	"sync"

	"github.com/tasukuchiba/message_board/internal/models"
)

// MemoryStorage はメッセージをメモリ上に保存するストレージ
type MemoryStorage struct {
	mu       sync.RWMutex
	messages []models.Message
	nextID   uint64
}

// NewMemoryStorage は新しいMemoryStorageを作成する
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		messages: make([]models.Message, 0),
	}
}

// Load は保存済みのメッセージのコピーとカウンタを返す
func (s *MemoryStorage) Load(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]models.Message, len(s.messages))
	copy(result, s.messages)
	return Snapshot{Messages: result, NextID: s.nextID}, nil
}

// Save はメッセージを保存する
func (s *MemoryStorage) Save(ctx context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.nextID = advance(s.nextID, msg.ID+1)
	return nil
}

// Delete は指定されたIDのメッセージを削除する
func (s *MemoryStorage) Delete(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, msg := range s.messages {
		if msg.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Close は何もしない
func (s *MemoryStorage) Close() error {
	return nil
}
