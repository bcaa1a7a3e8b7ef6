package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/tasukuchiba/message_board/internal/models"
)

// PostgresStorage はメッセージをPostgreSQLに保存するストレージ
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage は新しいPostgresStorageを作成する
func NewPostgresStorage(ctx context.Context, databaseURL string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	// 接続プール設定
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 接続確認
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	storage := NewPostgresStorageWithDB(db)

	// マイグレーション実行
	if err := storage.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return storage, nil
}

// NewPostgresStorageWithDB は既存の接続からPostgresStorageを作成する（マイグレーションは行わない）
func NewPostgresStorageWithDB(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// 本文はNULや不正なUTF-8を含んでもそのまま保存できるようBYTEAで持つ
const schema = `
	CREATE TABLE IF NOT EXISTS messages (
		id BIGINT PRIMARY KEY,
		author VARCHAR(128) NOT NULL,
		text BYTEA NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
	CREATE TABLE IF NOT EXISTS ledger_counter (
		name VARCHAR(32) PRIMARY KEY,
		next_id BIGINT NOT NULL
	);
	INSERT INTO ledger_counter (name, next_id) VALUES ('messages', 0)
	ON CONFLICT (name) DO NOTHING;
	DO $$
	BEGIN
		IF EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = 'messages' AND column_name = 'text' AND data_type = 'text'
		) THEN
			ALTER TABLE messages ALTER COLUMN text TYPE BYTEA USING convert_to(text, 'UTF8');
		END IF;
	END $$;
`

// migrate はデータベーススキーマを作成する
func (s *PostgresStorage) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Load は全てのメッセージをID順に取得し、カウンタと合わせて返す
func (s *PostgresStorage) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	var nextID int64
	err := s.db.QueryRowContext(ctx, `SELECT next_id FROM ledger_counter WHERE name = 'messages'`).Scan(&nextID)
	if err != nil && err != sql.ErrNoRows {
		return Snapshot{}, fmt.Errorf("select counter: %w", err)
	}
	snap.NextID = uint64(nextID)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, author, text, created_at
		FROM messages
		ORDER BY id ASC
	`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg    models.Message
			id     int64
			author string
			text   []byte
		)
		if err := rows.Scan(&id, &author, &text, &msg.Timestamp); err != nil {
			return Snapshot{}, fmt.Errorf("scan message: %w", err)
		}
		msg.ID = uint64(id)
		msg.Text = string(text)
		msg.Author = models.Identity(author)
		msg.Timestamp = msg.Timestamp.UTC()
		snap.Messages = append(snap.Messages, msg)
		snap.NextID = advance(snap.NextID, msg.ID+1)
	}

	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	// nilではなく空のスライスを返す
	if snap.Messages == nil {
		snap.Messages = []models.Message{}
	}

	return snap, nil
}

// Save はメッセージの挿入とカウンタ更新を1トランザクションで行う
func (s *PostgresStorage) Save(ctx context.Context, msg models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, author, text, created_at)
		VALUES ($1, $2, $3, $4)
	`, int64(msg.ID), string(msg.Author), []byte(msg.Text), msg.Timestamp)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_counter (name, next_id) VALUES ('messages', $1)
		ON CONFLICT (name) DO UPDATE SET next_id = GREATEST(ledger_counter.next_id, EXCLUDED.next_id)
	`, int64(msg.ID+1))
	if err != nil {
		return fmt.Errorf("update counter: %w", err)
	}

	return tx.Commit()
}

// Delete は指定されたIDのメッセージを削除する
func (s *PostgresStorage) Delete(ctx context.Context, id uint64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Close はデータベース接続を閉じる
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
