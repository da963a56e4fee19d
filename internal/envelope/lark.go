package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"inspectbot/internal/domain"
)

const larkMessageReceive = "im.message.receive_v1"

// LarkCodec decodes Lark event-subscription callbacks. The payload
// arrives either as cleartext event JSON or wrapped in an AES-256-CBC
// envelope whose key is SHA-256 of the configured encrypt key, with a
// random IV prefixed to the ciphertext. A configured verification token
// must additionally match the token carried in the event header.
type LarkCodec struct {
	verifyToken string
	key         []byte // sha256(encrypt key); nil when encryption is off
	now         func() time.Time
}

func NewLarkCodec(encryptKey, verificationToken string) *LarkCodec {
	c := &LarkCodec{verifyToken: verificationToken, now: time.Now}
	if encryptKey != "" {
		sum := sha256.Sum256([]byte(encryptKey))
		c.key = sum[:]
	}
	return c
}

var _ Codec = (*LarkCodec)(nil)

func (c *LarkCodec) Platform() string { return "lark" }

type larkEnvelope struct {
	Encrypt   string          `json:"encrypt"`
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	Token     string          `json:"token"`
	Header    larkHeader      `json:"header"`
	Event     json.RawMessage `json:"event"`
}

type larkHeader struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Token     string `json:"token"`
}

type larkMessageEvent struct {
	Sender struct {
		SenderID struct {
			OpenID string `json:"open_id"`
		} `json:"sender_id"`
	} `json:"sender"`
	Message struct {
		MessageID   string `json:"message_id"`
		MessageType string `json:"message_type"`
		Content     string `json:"content"`
	} `json:"message"`
}

type larkTextContent struct {
	Text string `json:"text"`
}

// Decode unwraps the optional encryption layer, checks the verification
// token, and extracts either the handshake challenge or a text message.
func (c *LarkCodec) Decode(_ url.Values, body []byte) (*Result, error) {
	var env larkEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	if env.Encrypt != "" {
		if c.key == nil {
			return nil, fmt.Errorf("%w: encrypted payload but no encrypt key configured", ErrDecryptionFailed)
		}
		plain, err := c.decrypt(env.Encrypt)
		if err != nil {
			return nil, err
		}
		env = larkEnvelope{}
		if err := json.Unmarshal(plain, &env); err != nil {
			return nil, fmt.Errorf("%w: decrypted payload is not JSON: %v", ErrMalformedEnvelope, err)
		}
	}

	// One-time URL-ownership handshake. The token rides at the top level here.
	if env.Type == "url_verification" {
		if c.verifyToken != "" && env.Token != c.verifyToken {
			return nil, fmt.Errorf("%w: verification token", ErrSignatureMismatch)
		}
		return &Result{Challenge: env.Challenge}, nil
	}

	if c.verifyToken != "" && env.Header.Token != c.verifyToken {
		return nil, fmt.Errorf("%w: verification token", ErrSignatureMismatch)
	}

	if env.Header.EventType != larkMessageReceive {
		return &Result{}, nil
	}

	var ev larkMessageEvent
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if ev.Message.MessageType != "text" {
		return &Result{}, nil
	}
	var content larkTextContent
	if err := json.Unmarshal([]byte(ev.Message.Content), &content); err != nil {
		return nil, fmt.Errorf("%w: message content: %v", ErrMalformedEnvelope, err)
	}

	return &Result{Event: &domain.InboundEvent{
		Platform:   c.Platform(),
		SenderID:   ev.Sender.SenderID.OpenID,
		MessageID:  ev.Message.MessageID,
		Text:       strings.TrimSpace(content.Text),
		ReceivedAt: c.now(),
	}}, nil
}

func (c *LarkCodec) decrypt(enc string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecryptionFailed, err)
	}
	if len(raw) < 2*aes.BlockSize || (len(raw)-aes.BlockSize)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrDecryptionFailed, len(raw))
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	iv, ct := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	return pkcs7Unpad(plain, aes.BlockSize)
}

// Encrypt wraps plaintext the way inbound envelopes are wrapped: a fresh
// random IV prefixed to AES-256-CBC ciphertext, base64 encoded. Used for
// handshake replies and as the fixture builder in tests.
func (c *LarkCodec) Encrypt(plaintext []byte) (string, error) {
	if c.key == nil {
		return "", fmt.Errorf("%w: no encrypt key configured", ErrDecryptionFailed)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(iv)+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[len(iv):], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}
