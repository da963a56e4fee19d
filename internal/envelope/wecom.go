package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"inspectbot/internal/domain"
)

// WeComCodec decodes WeCom (enterprise WeChat) callbacks. Requests carry
// msg_signature/timestamp/nonce as query parameters; the signature is
// SHA-1 over the lexicographic concatenation of token, timestamp, nonce
// and the ciphertext. Decryption is AES-256-CBC with the key's leading
// 16 bytes as IV, which is the scheme the platform mandates. The
// decrypted plaintext trails the sender's corp ID, which must match the
// locally configured one.
type WeComCodec struct {
	token  string
	corpID string
	key    []byte
	now    func() time.Time
}

func NewWeComCodec(token, encodingAESKey, corpID string) (*WeComCodec, error) {
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("%w: invalid encoding AES key", ErrMalformedEnvelope)
	}
	return &WeComCodec{token: token, corpID: corpID, key: key, now: time.Now}, nil
}

var _ Codec = (*WeComCodec)(nil)

func (c *WeComCodec) Platform() string { return "wecom" }

type wecomEnvelope struct {
	Encrypt string `xml:"Encrypt"`
}

type wecomMessage struct {
	FromUserName string `xml:"FromUserName"`
	MsgType      string `xml:"MsgType"`
	Content      string `xml:"Content"`
	MsgID        string `xml:"MsgId"`
}

// Decode verifies the request signature before any decryption attempt,
// then either answers the GET handshake (echostr present) or decrypts a
// POSTed message envelope.
func (c *WeComCodec) Decode(query url.Values, body []byte) (*Result, error) {
	sig := query.Get("msg_signature")
	timestamp := query.Get("timestamp")
	nonce := query.Get("nonce")

	if echo := query.Get("echostr"); echo != "" {
		if c.signature(timestamp, nonce, echo) != sig {
			return nil, ErrSignatureMismatch
		}
		plain, err := c.decrypt(echo)
		if err != nil {
			return nil, err
		}
		return &Result{Challenge: string(plain)}, nil
	}

	var env wecomEnvelope
	if err := xml.Unmarshal(body, &env); err != nil || env.Encrypt == "" {
		return nil, fmt.Errorf("%w: missing Encrypt element", ErrMalformedEnvelope)
	}
	if c.signature(timestamp, nonce, env.Encrypt) != sig {
		return nil, ErrSignatureMismatch
	}
	plain, err := c.decrypt(env.Encrypt)
	if err != nil {
		return nil, err
	}

	var msg wecomMessage
	if err := xml.Unmarshal(plain, &msg); err != nil {
		return nil, fmt.Errorf("%w: decrypted payload is not XML: %v", ErrMalformedEnvelope, err)
	}
	if msg.MsgType != "text" {
		return &Result{}, nil
	}

	return &Result{Event: &domain.InboundEvent{
		Platform:   c.Platform(),
		SenderID:   msg.FromUserName,
		MessageID:  msg.MsgID,
		Text:       strings.TrimSpace(msg.Content),
		ReceivedAt: c.now(),
	}}, nil
}

func (c *WeComCodec) signature(timestamp, nonce, payload string) string {
	parts := []string{c.token, timestamp, nonce, payload}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

func (c *WeComCodec) decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecryptionFailed, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrDecryptionFailed, len(raw))
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, c.key[:aes.BlockSize]).CryptBlocks(plain, raw)
	plain, err = pkcs7Unpad(plain, 32)
	if err != nil {
		return nil, err
	}

	// 16 bytes random | 4-byte big-endian length | payload | corp ID
	if len(plain) < 20 {
		return nil, fmt.Errorf("%w: plaintext too short", ErrDecryptionFailed)
	}
	content := plain[16:]
	msgLen := int(binary.BigEndian.Uint32(content[:4]))
	if msgLen < 0 || 4+msgLen > len(content) {
		return nil, fmt.Errorf("%w: bad length prefix", ErrDecryptionFailed)
	}
	payload := content[4 : 4+msgLen]
	if from := string(content[4+msgLen:]); from != c.corpID {
		return nil, fmt.Errorf("%w: corp %q", ErrIdentityMismatch, from)
	}
	return payload, nil
}

// Encrypt builds a ciphertext the platform would accept back: random
// prefix, length-framed payload, trailing corp ID, padded to 32 bytes.
func (c *WeComCodec) Encrypt(payload []byte) (string, error) {
	random, err := randAlnum(16)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	buf := make([]byte, 0, 20+len(payload)+len(c.corpID))
	buf = append(buf, random...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	buf = append(buf, c.corpID...)
	buf = pkcs7Pad(buf, 32)

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	out := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, c.key[:aes.BlockSize]).CryptBlocks(out, buf)
	return base64.StdEncoding.EncodeToString(out), nil
}

// EncryptEcho produces the signed XML reply envelope for an outbound
// echo value, mirroring what the platform sends inbound.
func (c *WeComCodec) EncryptEcho(echo string) (string, error) {
	enc, err := c.Encrypt([]byte(echo))
	if err != nil {
		return "", err
	}
	nonce, err := randAlnum(8)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	sig := c.signature(timestamp, string(nonce), enc)
	return fmt.Sprintf(
		"<xml><Encrypt><![CDATA[%s]]></Encrypt><MsgSignature><![CDATA[%s]]></MsgSignature><TimeStamp>%s</TimeStamp><Nonce><![CDATA[%s]]></Nonce></xml>",
		enc, sig, timestamp, nonce), nil
}

// SignedQuery returns query values carrying a valid signature for the
// given ciphertext. Exported for handler tests.
func (c *WeComCodec) SignedQuery(timestamp, nonce, payload string) url.Values {
	q := url.Values{}
	q.Set("msg_signature", c.signature(timestamp, nonce, payload))
	q.Set("timestamp", timestamp)
	q.Set("nonce", nonce)
	return q
}
