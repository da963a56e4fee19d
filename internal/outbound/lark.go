// Package outbound holds the platform REST clients implementing
// domain.Messenger. They are thin wrappers: token caching, message
// sends, and file uploads, nothing clever.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"inspectbot/internal/domain"
)

// tokenEarlyRefresh renews platform access tokens this long before expiry.
const tokenEarlyRefresh = 5 * time.Minute

// LarkConfig configures the Lark REST client.
type LarkConfig struct {
	AppID     string
	AppSecret string
	APIBase   string
	Logger    *slog.Logger
}

// LarkClient sends messages and files through the Lark Open API.
type LarkClient struct {
	appID     string
	appSecret string
	apiBase   string
	client    *http.Client
	logger    *slog.Logger

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ domain.Messenger = (*LarkClient)(nil)

func NewLarkClient(cfg LarkConfig) *LarkClient {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://open.feishu.cn/open-apis"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LarkClient{
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		apiBase:   cfg.APIBase,
		client:    &http.Client{Timeout: 15 * time.Second},
		logger:    cfg.Logger,
	}
}

func (c *LarkClient) Platform() string { return "lark" }

func (c *LarkClient) tenantToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	var resp struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	payload := map[string]string{"app_id": c.appID, "app_secret": c.appSecret}
	if err := c.postJSON(ctx, c.apiBase+"/auth/v3/tenant_access_token/internal", "", payload, &resp); err != nil {
		return "", fmt.Errorf("lark token: %w", err)
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("lark token: code %d: %s", resp.Code, resp.Msg)
	}
	c.token = resp.TenantAccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(resp.Expire)*time.Second - tokenEarlyRefresh)
	return c.token, nil
}

func (c *LarkClient) SendText(ctx context.Context, recipient, text string) error {
	content, _ := json.Marshal(map[string]string{"text": text})
	return c.sendMessage(ctx, recipient, "text", string(content))
}

// SendRichSummary sends an interactive card with a colored header: green
// for the all-clear tone, red for everything else.
func (c *LarkClient) SendRichSummary(ctx context.Context, recipient, content string, tone domain.Tone) error {
	template, title := "red", "🚨 Inspection alert"
	if tone == domain.ToneGood {
		template, title = "green", "✅ Inspection OK"
	}
	card := map[string]any{
		"config": map[string]any{"wide_screen_mode": true},
		"header": map[string]any{
			"template": template,
			"title":    map[string]string{"content": title, "tag": "plain_text"},
		},
		"elements": []map[string]string{{"tag": "markdown", "content": content}},
	}
	cardJSON, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("lark card: %w", err)
	}
	return c.sendMessage(ctx, recipient, "interactive", string(cardJSON))
}

// UploadFile uploads a local file as a generic stream attachment and
// returns the file key. Zero-byte files are refused up front since the
// API rejects them anyway.
func (c *LarkClient) UploadFile(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("lark upload: %w", err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("lark upload: %s is empty", path)
	}
	token, err := c.tenantToken(ctx)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("lark upload: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("file_type", "stream")
	mw.WriteField("file_name", filepath.Base(path))
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("lark upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("lark upload: %w", err)
	}
	mw.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/im/v1/files", &body)
	if err != nil {
		return "", fmt.Errorf("lark upload: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			FileKey string `json:"file_key"`
		} `json:"data"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("lark upload: %w", err)
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("lark upload: code %d: %s", resp.Code, resp.Msg)
	}
	return resp.Data.FileKey, nil
}

func (c *LarkClient) SendFile(ctx context.Context, recipient, handle string) error {
	content, _ := json.Marshal(map[string]string{"file_key": handle})
	return c.sendMessage(ctx, recipient, "file", string(content))
}

func (c *LarkClient) sendMessage(ctx context.Context, recipient, msgType, content string) error {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return err
	}
	payload := map[string]string{
		"receive_id": recipient,
		"msg_type":   msgType,
		"content":    content,
	}
	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	url := c.apiBase + "/im/v1/messages?receive_id_type=open_id"
	if err := c.postJSON(ctx, url, token, payload, &resp); err != nil {
		return fmt.Errorf("lark send %s: %w", msgType, err)
	}
	if resp.Code != 0 {
		return fmt.Errorf("lark send %s: code %d: %s", msgType, resp.Code, resp.Msg)
	}
	return nil
}

func (c *LarkClient) postJSON(ctx context.Context, url, token string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *LarkClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}
