package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/tasukuchiba/message_board/internal/models"
)

const (
	messagePrefix = "msg:"
	nextIDKey     = "meta:next_id"
)

// badgerRecord はBadgerに保存する値。本文はバイト列（base64）で持ち、不正なUTF-8も変えずに保存する
type badgerRecord struct {
	ID        uint64    `json:"id"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Text      []byte    `json:"text"`
}

func toRecord(msg models.Message) badgerRecord {
	return badgerRecord{
		ID:        msg.ID,
		Author:    string(msg.Author),
		Timestamp: msg.Timestamp,
		Text:      []byte(msg.Text),
	}
}

func (r badgerRecord) message() models.Message {
	return models.Message{
		ID:        r.ID,
		Author:    models.Identity(r.Author),
		Timestamp: r.Timestamp,
		Text:      string(r.Text),
	}
}

// BadgerStorage はメッセージをBadgerDBに保存するストレージ
type BadgerStorage struct {
	db *badger.DB
}

// NewBadgerStorage は path にBadgerDBを開く
func NewBadgerStorage(path string) (*BadgerStorage, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStorage{db: db}, nil
}

// messageKey は "msg:{20桁ゼロ埋めID}" 形式のキーを返す。辞書順がID順になる
func messageKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", messagePrefix, id))
}

// Load はプレフィックス走査で全メッセージをID順に読み込む
func (s *BadgerStorage) Load(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Messages: []models.Message{}}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(nextIDKey))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("corrupt counter: %d bytes", len(val))
				}
				snap.NextID = binary.BigEndian.Uint64(val)
				return nil
			})
			if err != nil {
				return err
			}
		}

		prefix := []byte(messagePrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec badgerRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			msg := rec.message()
			snap.Messages = append(snap.Messages, msg)
			snap.NextID = advance(snap.NextID, msg.ID+1)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("load badger: %w", err)
	}
	return snap, nil
}

// Save はメッセージとカウンタを1トランザクションで書き込む
func (s *BadgerStorage) Save(ctx context.Context, msg models.Message) error {
	value, err := json.Marshal(toRecord(msg))
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(messageKey(msg.ID), value); err != nil {
			return err
		}

		next := msg.ID + 1
		item, err := txn.Get([]byte(nextIDKey))
		if err == nil {
			err = item.Value(func(val []byte) error {
				if len(val) == 8 {
					next = advance(binary.BigEndian.Uint64(val), next)
				}
				return nil
			})
		}
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, next)
		return txn.Set([]byte(nextIDKey), buf)
	})
}

// Delete は指定されたIDのメッセージを削除する
func (s *BadgerStorage) Delete(ctx context.Context, id uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := messageKey(id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
}

// Close はデータベースを閉じる
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}
