package models

import "time"

// Identity は外部の認証層で検証済みの呼び出し元を表す不透明な識別子
type Identity string

// Message は掲示板に投稿された1件のメッセージ。作成後は変更されない
type Message struct {
	ID        uint64    `json:"id"`
	Author    Identity  `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}
