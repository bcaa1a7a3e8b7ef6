// Package identity は署名付きリクエストから呼び出し元を特定する
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tasukuchiba/message_board/internal/models"
)

const (
	HeaderIdentity  = "X-Board-Identity"
	HeaderNonce     = "X-Board-Nonce"
	HeaderTimestamp = "X-Board-Timestamp"
	HeaderSignature = "X-Board-Signature"
)

var (
	ErrInvalidPublicKey = errors.New("invalid Ed25519 public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

var validate = validator.New()

// SignedHeaders は署名付きリクエストに付与するヘッダー
type SignedHeaders struct {
	Identity  string `validate:"required,hexadecimal,len=64"`
	Nonce     string `validate:"required,min=24,max=128"`
	Timestamp string `validate:"required,number"`
	Signature string `validate:"required,base64"`
}

// HeadersFrom はリクエストから署名ヘッダーを取り出す
func HeadersFrom(h http.Header) SignedHeaders {
	return SignedHeaders{
		Identity:  h.Get(HeaderIdentity),
		Nonce:     h.Get(HeaderNonce),
		Timestamp: h.Get(HeaderTimestamp),
		Signature: h.Get(HeaderSignature),
	}
}

// Validate はヘッダーの形式を検証する
func (s SignedHeaders) Validate() error {
	return validate.Struct(s)
}

// Apply はヘッダーをリクエストに設定する
func (s SignedHeaders) Apply(h http.Header) {
	h.Set(HeaderIdentity, s.Identity)
	h.Set(HeaderNonce, s.Nonce)
	h.Set(HeaderTimestamp, s.Timestamp)
	h.Set(HeaderSignature, s.Signature)
}

// ParsePublicKey は16進文字列のEd25519公開鍵を検証して返す
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex encoding", ErrInvalidPublicKey)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(decoded))
	}
	return ed25519.PublicKey(decoded), nil
}

// Of は公開鍵から呼び出し元の識別子（小文字16進）を返す
func Of(pub ed25519.PublicKey) models.Identity {
	return models.Identity(hex.EncodeToString(pub))
}

// BodyHash はリクエストボディのSHA-256を16進で返す
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// SignaturePayload は署名対象のデータを作る
// Format: method|path|sha256(body)|nonce|timestamp
func SignaturePayload(method, path, bodyHash, nonce string, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%d", strings.ToUpper(method), path, bodyHash, nonce, timestamp))
}

// VerifySignature は署名を検証する
func VerifySignature(pub ed25519.PublicKey, signedData []byte, signatureB64 string) error {
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: invalid base64 encoding", ErrInvalidSignature)
	}
	if !ed25519.Verify(pub, signedData, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign はリクエストに付与する署名ヘッダーを作る
func Sign(priv ed25519.PrivateKey, method, path string, body []byte, nonce string, at time.Time) SignedHeaders {
	ts := at.UnixMilli()
	payload := SignaturePayload(method, path, BodyHash(body), nonce, ts)
	pub := priv.Public().(ed25519.PublicKey)
	return SignedHeaders{
		Identity:  string(Of(pub)),
		Nonce:     nonce,
		Timestamp: strconv.FormatInt(ts, 10),
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(priv, payload)),
	}
}
