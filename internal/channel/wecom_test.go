package channel

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inspectbot/internal/envelope"
)

const wecomTestKey = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQ"

func newTestWeCom(t *testing.T, m *fakeMessenger) *WeCom {
	t.Helper()
	codec, err := envelope.NewWeComCodec("tok", wecomTestKey, "ww_corp")
	if err != nil {
		t.Fatal(err)
	}
	return NewWeCom(WeComConfig{
		Codec:    codec,
		Pipeline: newTestPipeline(m),
		Logger:   testLogger(),
	})
}

func TestWeComHandler_EchoHandshake(t *testing.T) {
	w := newTestWeCom(t, &fakeMessenger{})

	enc, err := w.codec.Encrypt([]byte("echo-777"))
	if err != nil {
		t.Fatal(err)
	}
	q := w.codec.SignedQuery("1700000000", "n1", enc)
	q.Set("echostr", enc)

	req := httptest.NewRequest(http.MethodGet, "/wecom?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	w.handle(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if rec.Body.String() != "echo-777" {
		t.Errorf("body: %q", rec.Body.String())
	}
}

func TestWeComHandler_EchoBadSignature(t *testing.T) {
	w := newTestWeCom(t, &fakeMessenger{})

	enc, err := w.codec.Encrypt([]byte("echo"))
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet,
		"/wecom?msg_signature=bad&timestamp=1&nonce=n&echostr="+enc, nil)
	rec := httptest.NewRecorder()
	w.handle(rec, req)

	if rec.Body.String() != "error" {
		t.Errorf("body: %q", rec.Body.String())
	}
}

func TestWeComHandler_Message(t *testing.T) {
	m := &fakeMessenger{}
	w := newTestWeCom(t, m)

	inner := "<xml><FromUserName><![CDATA[user1]]></FromUserName><MsgType><![CDATA[text]]></MsgType><Content><![CDATA[inspect]]></Content><MsgId>1001</MsgId></xml>"
	enc, err := w.codec.Encrypt([]byte(inner))
	if err != nil {
		t.Fatal(err)
	}
	q := w.codec.SignedQuery("1700000000", "n1", enc)
	body := fmt.Sprintf("<xml><Encrypt><![CDATA[%s]]></Encrypt></xml>", enc)

	req := httptest.NewRequest(http.MethodPost, "/wecom?"+q.Encode(), strings.NewReader(body))
	rec := httptest.NewRecorder()
	w.handle(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if rec.Body.String() != "success" {
		t.Errorf("ack body: %q", rec.Body.String())
	}
	if len(m.allTexts()) != 1 {
		t.Errorf("trigger should produce one reply, got %v", m.allTexts())
	}
}

func TestWeComHandler_MessageBadSignature(t *testing.T) {
	m := &fakeMessenger{}
	w := newTestWeCom(t, m)

	inner := "<xml><MsgType><![CDATA[text]]></MsgType></xml>"
	enc, err := w.codec.Encrypt([]byte(inner))
	if err != nil {
		t.Fatal(err)
	}
	body := fmt.Sprintf("<xml><Encrypt><![CDATA[%s]]></Encrypt></xml>", enc)

	req := httptest.NewRequest(http.MethodPost,
		"/wecom?msg_signature=bad&timestamp=1&nonce=n", strings.NewReader(body))
	rec := httptest.NewRecorder()
	w.handle(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status: %d", rec.Code)
	}
	if len(m.allTexts()) != 0 {
		t.Error("rejected requests must not reach the pipeline")
	}
}

func TestWeComHandler_MethodNotAllowed(t *testing.T) {
	w := newTestWeCom(t, &fakeMessenger{})
	req := httptest.NewRequest(http.MethodDelete, "/wecom", nil)
	rec := httptest.NewRecorder()
	w.handle(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: %d", rec.Code)
	}
}
