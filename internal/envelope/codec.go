// Package envelope implements the per-platform transport-security
// schemes: signature verification, symmetric payload decryption, and
// construction of encrypted handshake replies. A codec rejects forged
// or tampered input before any business logic runs.
package envelope

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"

	"inspectbot/internal/domain"
)

var (
	ErrSignatureMismatch = errors.New("envelope: signature mismatch")
	ErrDecryptionFailed  = errors.New("envelope: decryption failed")
	ErrIdentityMismatch  = errors.New("envelope: receiver identity mismatch")
	ErrMalformedEnvelope = errors.New("envelope: malformed envelope")
)

// Result is the outcome of decoding one authenticated inbound request.
// Challenge is set for URL-ownership handshakes, Event for text-message
// deliveries. Both empty means the request was valid but carries nothing
// actionable (non-message events, non-text messages).
type Result struct {
	Challenge string
	Event     *domain.InboundEvent
}

// Codec verifies and decrypts a raw webhook request into a Result.
// Implementations: LarkCodec (JSON envelope), WeComCodec (XML envelope).
type Codec interface {
	Platform() string
	Decode(query url.Values, body []byte) (*Result, error)
}

// pkcs7Pad pads data to a multiple of blockSize.
func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

// pkcs7Unpad strips padding of at most max bytes.
func pkcs7Unpad(data []byte, max int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrDecryptionFailed)
	}
	n := int(data[len(data)-1])
	if n < 1 || n > max || n > len(data) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryptionFailed)
	}
	return data[:len(data)-n], nil
}

const alnum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randAlnum returns n random alphanumeric bytes.
func randAlnum(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	for i := range buf {
		buf[i] = alnum[int(buf[i])%len(alnum)]
	}
	return buf, nil
}
