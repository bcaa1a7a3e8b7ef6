package ledger

import "sync"

// EventMessageUpdated は台帳が変化したことを表すイベント名
const EventMessageUpdated = "MessageUpdated"

// Feed はペイロードを持たない変更通知を購読者全員に配信する
type Feed struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription は1購読者分の通知チャネル
type Subscription struct {
	feed *Feed
	c    chan struct{}
	once sync.Once
}

// NewFeed は新しいFeedを作成する
func NewFeed() *Feed {
	return &Feed{subs: make(map[*Subscription]struct{})}
}

// Subscribe は購読を開始する。開始前の変更は配信されない
func (f *Feed) Subscribe() *Subscription {
	sub := &Subscription{feed: f, c: make(chan struct{}, 1)}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub
}

// Publish は全購読者に通知する。書き込み側をブロックしない。
// 通知はまとめられる: 未受信の通知がある購読者には、その後の変更が何件あっても1件しか届かない。
// 受信後に一覧を取り直せば最新の状態になる
func (f *Feed) Publish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		select {
		case sub.c <- struct{}{}:
		default:
			// 未受信の通知が残っているので1件にまとめる
		}
	}
}

// Len は現在の購読者数を返す
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// C は通知を受け取るチャネルを返す。Close後はクローズされる
func (s *Subscription) C() <-chan struct{} {
	return s.c
}

// Close は購読を解除する
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		close(s.c)
		s.feed.mu.Unlock()
	})
}
