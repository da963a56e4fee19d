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
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"inspectbot/internal/domain"
)

// WeComConfig configures the WeCom REST client.
type WeComConfig struct {
	CorpID     string
	CorpSecret string
	AgentID    int
	APIBase    string
	Logger     *slog.Logger
}

// WeComClient sends messages and files through the WeCom API. WeCom has
// no card format, so rich summaries go out as markdown messages.
type WeComClient struct {
	corpID     string
	corpSecret string
	agentID    int
	apiBase    string
	client     *http.Client
	logger     *slog.Logger

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ domain.Messenger = (*WeComClient)(nil)

func NewWeComClient(cfg WeComConfig) *WeComClient {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://qyapi.weixin.qq.com/cgi-bin"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WeComClient{
		corpID:     cfg.CorpID,
		corpSecret: cfg.CorpSecret,
		agentID:    cfg.AgentID,
		apiBase:    cfg.APIBase,
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     cfg.Logger,
	}
}

func (c *WeComClient) Platform() string { return "wecom" }

func (c *WeComClient) accessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	u := c.apiBase + "/gettoken?corpid=" + url.QueryEscape(c.corpID) + "&corpsecret=" + url.QueryEscape(c.corpSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("wecom token: %w", err)
	}
	var resp struct {
		ErrCode     int    `json:"errcode"`
		ErrMsg      string `json:"errmsg"`
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("wecom token: %w", err)
	}
	if resp.ErrCode != 0 {
		return "", fmt.Errorf("wecom token: errcode %d: %s", resp.ErrCode, resp.ErrMsg)
	}
	c.token = resp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(resp.ExpiresIn)*time.Second - tokenEarlyRefresh)
	return c.token, nil
}

func (c *WeComClient) SendText(ctx context.Context, recipient, text string) error {
	return c.sendMessage(ctx, recipient, "text", map[string]any{
		"text": map[string]string{"content": text},
	})
}

func (c *WeComClient) SendRichSummary(ctx context.Context, recipient, content string, tone domain.Tone) error {
	heading := "🚨 **Inspection alert**\n"
	if tone == domain.ToneGood {
		heading = "✅ **Inspection OK**\n"
	}
	return c.sendMessage(ctx, recipient, "markdown", map[string]any{
		"markdown": map[string]string{"content": heading + content},
	})
}

// UploadFile uploads a temporary media file and returns the media id.
func (c *WeComClient) UploadFile(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("wecom upload: %w", err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("wecom upload: %s is empty", path)
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("wecom upload: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("wecom upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("wecom upload: %w", err)
	}
	mw.Close()

	u := c.apiBase + "/media/upload?access_token=" + url.QueryEscape(token) + "&type=file"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return "", fmt.Errorf("wecom upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
		MediaID string `json:"media_id"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("wecom upload: %w", err)
	}
	if resp.ErrCode != 0 {
		return "", fmt.Errorf("wecom upload: errcode %d: %s", resp.ErrCode, resp.ErrMsg)
	}
	return resp.MediaID, nil
}

func (c *WeComClient) SendFile(ctx context.Context, recipient, handle string) error {
	return c.sendMessage(ctx, recipient, "file", map[string]any{
		"file": map[string]string{"media_id": handle},
	})
}

func (c *WeComClient) sendMessage(ctx context.Context, recipient, msgType string, extra map[string]any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"touser":  recipient,
		"msgtype": msgType,
		"agentid": c.agentID,
		"safe":    0,
	}
	for k, v := range extra {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wecom send %s: %w", msgType, err)
	}

	u := c.apiBase + "/message/send?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("wecom send %s: %w", msgType, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	var resp struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := c.do(req, &resp); err != nil {
		return fmt.Errorf("wecom send %s: %w", msgType, err)
	}
	if resp.ErrCode != 0 {
		return fmt.Errorf("wecom send %s: errcode %d: %s", msgType, resp.ErrCode, resp.ErrMsg)
	}
	return nil
}

func (c *WeComClient) do(req *http.Request, out any) error {
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
