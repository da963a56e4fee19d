package outbound

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"inspectbot/internal/domain"
)

type wecomAPIStub struct {
	tokenCalls int32
	messages   []map[string]any
	srv        *httptest.Server
}

func newWeComAPIStub(t *testing.T) *wecomAPIStub {
	t.Helper()
	s := &wecomAPIStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("/gettoken", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.tokenCalls, 1)
		if r.URL.Query().Get("corpid") == "" {
			json.NewEncoder(w).Encode(map[string]any{"errcode": 41002, "errmsg": "corpid missing"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"errcode": 0, "access_token": "at-1", "expires_in": 7200,
		})
	})
	mux.HandleFunc("/message/send", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "at-1" {
			json.NewEncoder(w).Encode(map[string]any{"errcode": 40014, "errmsg": "invalid token"})
			return
		}
		var msg map[string]any
		json.NewDecoder(r.Body).Decode(&msg)
		s.messages = append(s.messages, msg)
		json.NewEncoder(w).Encode(map[string]any{"errcode": 0})
	})
	mux.HandleFunc("/media/upload", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "media_id": "media-1"})
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func newStubbedWeComClient(s *wecomAPIStub) *WeComClient {
	return NewWeComClient(WeComConfig{CorpID: "ww_c", CorpSecret: "sec", AgentID: 1000002, APIBase: s.srv.URL})
}

func TestWeComSendText(t *testing.T) {
	stub := newWeComAPIStub(t)
	c := newStubbedWeComClient(stub)

	if err := c.SendText(context.Background(), "user1", "hello"); err != nil {
		t.Fatal(err)
	}
	if len(stub.messages) != 1 {
		t.Fatalf("messages: %v", stub.messages)
	}
	m := stub.messages[0]
	if m["touser"] != "user1" || m["msgtype"] != "text" {
		t.Errorf("message: %v", m)
	}
	if m["agentid"] != float64(1000002) {
		t.Errorf("agentid: %v", m["agentid"])
	}
	text, _ := m["text"].(map[string]any)
	if text["content"] != "hello" {
		t.Errorf("content: %v", text)
	}
}

func TestWeComTokenCached(t *testing.T) {
	stub := newWeComAPIStub(t)
	c := newStubbedWeComClient(stub)
	ctx := context.Background()

	c.SendText(ctx, "u", "one")
	c.SendText(ctx, "u", "two")

	if n := atomic.LoadInt32(&stub.tokenCalls); n != 1 {
		t.Errorf("token should be fetched once, got %d", n)
	}
}

func TestWeComSendRichSummary_Tones(t *testing.T) {
	stub := newWeComAPIStub(t)
	c := newStubbedWeComClient(stub)
	ctx := context.Background()

	c.SendRichSummary(ctx, "u", "fine", domain.ToneGood)
	c.SendRichSummary(ctx, "u", "broken", domain.ToneAlert)

	if len(stub.messages) != 2 {
		t.Fatalf("messages: %d", len(stub.messages))
	}
	md0, _ := stub.messages[0]["markdown"].(map[string]any)
	md1, _ := stub.messages[1]["markdown"].(map[string]any)
	if !strings.HasPrefix(md0["content"].(string), "✅") {
		t.Errorf("good tone heading: %v", md0["content"])
	}
	if !strings.HasPrefix(md1["content"].(string), "🚨") {
		t.Errorf("alert tone heading: %v", md1["content"])
	}
}

func TestWeComUploadThenSendFile(t *testing.T) {
	stub := newWeComAPIStub(t)
	c := newStubbedWeComClient(stub)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "error_logs.xlsx")
	if err := os.WriteFile(path, []byte("xlsx bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	id, err := c.UploadFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if id != "media-1" {
		t.Errorf("media id: %s", id)
	}
	if err := c.SendFile(ctx, "u", id); err != nil {
		t.Fatal(err)
	}
	last := stub.messages[len(stub.messages)-1]
	file, _ := last["file"].(map[string]any)
	if last["msgtype"] != "file" || file["media_id"] != "media-1" {
		t.Errorf("file message: %v", last)
	}
}

func TestWeComTokenError(t *testing.T) {
	stub := newWeComAPIStub(t)
	c := NewWeComClient(WeComConfig{CorpID: "", CorpSecret: "s", APIBase: stub.srv.URL})

	err := c.SendText(context.Background(), "u", "hi")
	if err == nil || !strings.Contains(err.Error(), "41002") {
		t.Errorf("expected token error surfaced, got %v", err)
	}
}
