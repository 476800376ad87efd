package subscriptions

import (
	"crypto/rand"
	"encoding/hex"
)

const tokenBytes = 32

// newToken generates a cryptographically random management token. The token
// is the only credential binding a subscriber to its verify/manage/
// unsubscribe links.
func newToken() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b)
}
