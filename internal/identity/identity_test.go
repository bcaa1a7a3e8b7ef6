package identity

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasukuchiba/message_board/internal/models"
)

const testNonce = "0123456789abcdef01234567"

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv
}

// echoIdentity は検証済みの呼び出し元とボディを返すハンドラー
func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Write([]byte(string(id) + "|" + string(body)))
	})
}

func signedRequest(priv ed25519.PrivateKey, method, path, body, nonce string, at time.Time) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	Sign(priv, method, path, []byte(body), nonce, at).Apply(req.Header)
	return req
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	priv := newKey(t)
	headers := Sign(priv, http.MethodPost, "/messages", []byte(`{"text":"hi"}`), testNonce, time.UnixMilli(1700000000000))
	require.NoError(t, headers.Validate())

	pub, err := ParsePublicKey(headers.Identity)
	require.NoError(t, err)
	assert.Equal(t, Of(priv.Public().(ed25519.PublicKey)), models.Identity(headers.Identity))

	payload := SignaturePayload("post", "/messages", BodyHash([]byte(`{"text":"hi"}`)), testNonce, 1700000000000)
	assert.NoError(t, VerifySignature(pub, payload, headers.Signature))

	// 別のパスに流用できない
	other := SignaturePayload("DELETE", "/messages/1", BodyHash(nil), testNonce, 1700000000000)
	assert.ErrorIs(t, VerifySignature(pub, other, headers.Signature), ErrInvalidSignature)
}

func TestParsePublicKey_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not hex", "zz"},
		{"too short", "abcd"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePublicKey(tt.input)
			assert.ErrorIs(t, err, ErrInvalidPublicKey)
		})
	}
}

func TestRequireSignature_Accepts(t *testing.T) {
	priv := newKey(t)
	v := NewVerifier(NewMemoryNonceStore(), time.Minute, zerolog.Nop())
	handler := v.RequireSignature(echoIdentity())

	req := signedRequest(priv, http.MethodPost, "/messages", `{"text":"hello"}`, testNonce, time.Now())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	expected := string(Of(priv.Public().(ed25519.PublicKey))) + `|{"text":"hello"}`
	assert.Equal(t, expected, rec.Body.String())
}

func TestRequireSignature_Rejects(t *testing.T) {
	priv := newKey(t)
	now := time.Now()

	tests := []struct {
		name   string
		build  func() *http.Request
		status int
	}{
		{
			name: "missing headers",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/messages", nil)
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "short nonce",
			build: func() *http.Request {
				return signedRequest(priv, http.MethodPost, "/messages", "{}", "short", now)
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "expired timestamp",
			build: func() *http.Request {
				return signedRequest(priv, http.MethodPost, "/messages", "{}", testNonce, now.Add(-time.Hour))
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "future timestamp",
			build: func() *http.Request {
				return signedRequest(priv, http.MethodPost, "/messages", "{}", testNonce, now.Add(time.Hour))
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "tampered body",
			build: func() *http.Request {
				req := signedRequest(priv, http.MethodPost, "/messages", `{"text":"a"}`, testNonce, now)
				req.Body = io.NopCloser(strings.NewReader(`{"text":"b"}`))
				return req
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "signature for another path",
			build: func() *http.Request {
				req := httptest.NewRequest(http.MethodDelete, "/messages/2", nil)
				Sign(priv, http.MethodDelete, "/messages/1", nil, testNonce, now).Apply(req.Header)
				return req
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "identity of another key",
			build: func() *http.Request {
				req := signedRequest(priv, http.MethodPost, "/messages", "{}", testNonce, now)
				req.Header.Set(HeaderIdentity, string(Of(newKey(t).Public().(ed25519.PublicKey))))
				return req
			},
			status: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(NewMemoryNonceStore(), 30*time.Second, zerolog.Nop())
			rec := httptest.NewRecorder()
			v.RequireSignature(echoIdentity()).ServeHTTP(rec, tt.build())
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestRequireSignature_RejectsReplay(t *testing.T) {
	priv := newKey(t)
	v := NewVerifier(NewMemoryNonceStore(), time.Minute, zerolog.Nop())
	handler := v.RequireSignature(echoIdentity())
	now := time.Now()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(priv, http.MethodDelete, "/messages/0", "", testNonce, now))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(priv, http.MethodDelete, "/messages/0", "", testNonce, now))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "nonce already used")
}

func TestMemoryNonceStore_Expiry(t *testing.T) {
	store := NewMemoryNonceStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	fresh, err := store.Use(ctx, "alice", testNonce, time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = store.Use(ctx, "alice", testNonce, time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh)

	// 別の呼び出し元の同じnonceは独立
	fresh, err = store.Use(ctx, "bob", testNonce, time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	// 期限切れ後は再度使える
	now = now.Add(2 * time.Minute)
	fresh, err = store.Use(ctx, "alice", testNonce, time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMemoryNonceStore_SweepsPeriodically(t *testing.T) {
	store := NewMemoryNonceStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for _, nonce := range []string{"nonce-a-0000000000000000000", "nonce-b-0000000000000000000"} {
		fresh, err := store.Use(ctx, "alice", nonce, time.Second)
		require.NoError(t, err)
		require.True(t, fresh)
	}

	// 期限は切れたが掃除の間隔には達していない。期限切れは残っていても再利用できる
	now = now.Add(2 * time.Second)
	fresh, err := store.Use(ctx, "alice", "nonce-a-0000000000000000000", time.Second)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, 2, store.Len())

	// 間隔を過ぎると期限切れがまとめて削除される
	now = now.Add(nonceSweepInterval)
	fresh, err = store.Use(ctx, "bob", "nonce-c-0000000000000000000", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, 1, store.Len())
}

func TestRedisNonceStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	ctx := context.Background()
	store, err := NewRedisNonceStore(ctx, url)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer store.Close()

	nonce := "redis-test-" + time.Now().Format("150405.000000000")
	fresh, err := store.Use(ctx, "alice", nonce, time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = store.Use(ctx, "alice", nonce, time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestFromContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	id, ok := FromContext(WithIdentity(context.Background(), "alice"))
	assert.True(t, ok)
	assert.Equal(t, models.Identity("alice"), id)
}
