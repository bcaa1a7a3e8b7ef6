package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/tasukuchiba/message_board/internal/metrics"
	"github.com/tasukuchiba/message_board/internal/models"
)

type contextKey struct{}

// DefaultWindow は署名の有効期間
const DefaultWindow = 30 * time.Second

// maxBodySize は署名検証のために読み込むボディの上限
const maxBodySize = 1 << 20

// Verifier は署名付きリクエストを検証するミドルウェア
type Verifier struct {
	nonces NonceStore
	window time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewVerifier は新しいVerifierを作成する
func NewVerifier(nonces NonceStore, window time.Duration, logger zerolog.Logger) *Verifier {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Verifier{
		nonces: nonces,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// RequireSignature は署名を検証し、呼び出し元をコンテキストに格納する
func (v *Verifier) RequireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := HeadersFrom(r.Header)
		if err := headers.Validate(); err != nil {
			v.reject(w, "malformed_headers", "missing or malformed signature headers")
			return
		}

		ts, err := strconv.ParseInt(headers.Timestamp, 10, 64)
		if err != nil {
			v.reject(w, "malformed_headers", "invalid timestamp format")
			return
		}
		if !v.isTimestampValid(ts) {
			v.reject(w, "expired", "timestamp expired or too far in future")
			return
		}

		pub, err := ParsePublicKey(headers.Identity)
		if err != nil {
			v.reject(w, "bad_key", "invalid identity public key")
			return
		}
		caller := Of(pub)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			jsonError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		payload := SignaturePayload(r.Method, r.URL.Path, BodyHash(body), headers.Nonce, ts)
		if err := VerifySignature(pub, payload, headers.Signature); err != nil {
			v.reject(w, "bad_signature", "invalid signature")
			return
		}

		// 署名検証後にnonceを消費する
		fresh, err := v.nonces.Use(r.Context(), caller, headers.Nonce, 2*v.window)
		if err != nil {
			v.logger.Error().Err(err).Msg("nonce store failed")
			jsonError(w, http.StatusServiceUnavailable, "nonce store unavailable")
			return
		}
		if !fresh {
			v.reject(w, "replay", "nonce already used")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), caller)))
	})
}

func (v *Verifier) isTimestampValid(ts int64) bool {
	now := v.now().UnixMilli()
	windowMs := v.window.Milliseconds()
	// 過去 window 以内のみ受け付ける。わずかな時計のずれは許容する
	return ts > now-windowMs && ts <= now+1000
}

func (v *Verifier) reject(w http.ResponseWriter, reason, message string) {
	metrics.SignatureFailures.WithLabelValues(reason).Inc()
	v.logger.Debug().Str("reason", reason).Msg("signed request rejected")
	jsonError(w, http.StatusUnauthorized, message)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// WithIdentity は呼び出し元をコンテキストに格納する
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext は検証済みの呼び出し元を取り出す
func FromContext(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(models.Identity)
	return id, ok && id != ""
}
