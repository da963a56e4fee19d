package channel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inspectbot/internal/envelope"
)

func newTestLark(m *fakeMessenger) *Lark {
	return NewLark(LarkConfig{
		Codec:    envelope.NewLarkCodec("", "verify-token"),
		Pipeline: newTestPipeline(m),
		Logger:   testLogger(),
	})
}

func postLark(t *testing.T, l *Lark, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/lark", strings.NewReader(body))
	rec := httptest.NewRecorder()
	l.handleEvent(rec, req)
	return rec
}

func TestLarkHandler_Challenge(t *testing.T) {
	l := newTestLark(&fakeMessenger{})
	rec := postLark(t, l, `{"type":"url_verification","challenge":"ch_42","token":"verify-token"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["challenge"] != "ch_42" {
		t.Errorf("challenge: %v", resp)
	}
}

func TestLarkHandler_EventAck(t *testing.T) {
	m := &fakeMessenger{}
	l := newTestLark(m)
	body := `{
		"header": {"event_type": "im.message.receive_v1", "token": "verify-token"},
		"event": {
			"sender": {"sender_id": {"open_id": "ou_1"}},
			"message": {"message_id": "om_1", "message_type": "text", "content": "{\"text\":\"inspect\"}"}
		}
	}`
	rec := postLark(t, l, body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["code"] != float64(0) {
		t.Errorf("ack code: %v", resp)
	}
	if len(m.allTexts()) != 1 {
		t.Errorf("trigger should produce one prompt reply, got %v", m.allTexts())
	}
}

func TestLarkHandler_BadToken(t *testing.T) {
	m := &fakeMessenger{}
	l := newTestLark(m)
	body := `{"header": {"event_type": "im.message.receive_v1", "token": "wrong"}, "event": {}}`
	rec := postLark(t, l, body)

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["code"] != float64(1) {
		t.Errorf("rejection code: %v", resp)
	}
	if len(m.allTexts()) != 0 {
		t.Error("rejected requests must not reach the pipeline")
	}
}

func TestLarkHandler_EncryptedEvent(t *testing.T) {
	m := &fakeMessenger{}
	l := NewLark(LarkConfig{
		Codec:    envelope.NewLarkCodec("enc-key", "verify-token"),
		Pipeline: newTestPipeline(m),
		Logger:   testLogger(),
	})

	plain := `{
		"header": {"event_type": "im.message.receive_v1", "token": "verify-token"},
		"event": {
			"sender": {"sender_id": {"open_id": "ou_1"}},
			"message": {"message_id": "om_1", "message_type": "text", "content": "{\"text\":\"inspect\"}"}
		}
	}`
	enc, err := l.codec.Encrypt([]byte(plain))
	if err != nil {
		t.Fatal(err)
	}
	rec := postLark(t, l, fmt.Sprintf(`{"encrypt": %q}`, enc))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if len(m.allTexts()) != 1 {
		t.Errorf("decrypted trigger should produce one reply, got %v", m.allTexts())
	}
}

func TestLarkHandler_MethodNotAllowed(t *testing.T) {
	l := newTestLark(&fakeMessenger{})
	req := httptest.NewRequest(http.MethodGet, "/lark", nil)
	rec := httptest.NewRecorder()
	l.handleEvent(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: %d", rec.Code)
	}
}
