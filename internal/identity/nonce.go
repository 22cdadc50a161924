package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// NewNoncePair はGoogle One Tap用のnonceを生成する。
// rawは32バイトの乱数のbase64表現、hashedはrawのSHA-256の16進表現。
// hashedをGoogleに渡し、rawをSignInWithIDTokenに渡す。
func NewNoncePair() (raw, hashed string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("nonceの生成に失敗しました: %w", err)
	}
	raw = base64.StdEncoding.EncodeToString(b)
	return raw, HashNonce(raw), nil
}

// HashNonce は生nonceのSHA-256を16進文字列で返す。
func HashNonce(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
