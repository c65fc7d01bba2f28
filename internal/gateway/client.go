package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout limita toda chamada ao gateway. Nenhuma chamada fica sem
// timeout explícito.
const DefaultTimeout = 30 * time.Second

// Result carrega o status HTTP cru e o corpo interpretado de uma chamada ao
// gateway. Respostas não-2xx NÃO viram erro: o chamador decide o que fazer
// com o status. Erros só são devolvidos para falhas de rede (conexão
// recusada, timeout).
type Result struct {
	StatusCode int
	Body       map[string]any
	Raw        string
}

// IsJSON indica se o corpo pôde ser interpretado como objeto JSON.
func (r *Result) IsJSON() bool { return r.Body != nil }

// ErrorField devolve o campo "error" do corpo, se houver.
func (r *Result) ErrorField() string {
	if r.Body == nil {
		return ""
	}
	if v, ok := r.Body["error"].(string); ok {
		return v
	}
	return ""
}

// SuccessFalse indica resposta com {success:false} explícito no corpo.
func (r *Result) SuccessFalse() bool {
	if r.Body == nil {
		return false
	}
	v, ok := r.Body["success"].(bool)
	return ok && !v
}

// Client fala com um processo gateway de mensagens. Sem estado entre chamadas.
type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

// Do executa uma chamada genérica ao gateway.
func (c *Client) Do(ctx context.Context, baseURL, token, method, path string, body any) (*Result, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gateway: marshal body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	url := strings.TrimRight(baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("gateway: new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway: read body: %w", err)
	}

	result := &Result{StatusCode: resp.StatusCode, Raw: string(raw)}

	var parsed map[string]any
	if json.Unmarshal(raw, &parsed) == nil {
		result.Body = parsed
	}

	return result, nil
}

func (c *Client) Health(ctx context.Context, baseURL, token string) (*Result, error) {
	return c.Do(ctx, baseURL, token, http.MethodGet, "/health", nil)
}

func (c *Client) Status(ctx context.Context, baseURL, token string) (*Result, error) {
	return c.Do(ctx, baseURL, token, http.MethodGet, "/status", nil)
}

func (c *Client) QRCode(ctx context.Context, baseURL, token string) (*Result, error) {
	return c.Do(ctx, baseURL, token, http.MethodGet, "/qrcode", nil)
}

// QRCodeRefresh força a geração de um novo QR code.
func (c *Client) QRCodeRefresh(ctx context.Context, baseURL, token string) (*Result, error) {
	return c.Do(ctx, baseURL, token, http.MethodPost, "/qrcode", nil)
}

func (c *Client) Connect(ctx context.Context, baseURL, token string) (*Result, error) {
	return c.Do(ctx, baseURL, token, http.MethodPost, "/connect", nil)
}

func (c *Client) Disconnect(ctx context.Context, baseURL, token string) (*Result, error) {
	return c.Do(ctx, baseURL, token, http.MethodPost, "/disconnect", nil)
}

func (c *Client) Send(ctx context.Context, baseURL, token string, body any) (*Result, error) {
	return c.Do(ctx, baseURL, token, http.MethodPost, "/send", body)
}

func (c *Client) SendButtons(ctx context.Context, baseURL, token string, body any) (*Result, error) {
	return c.Do(ctx, baseURL, token, http.MethodPost, "/send-buttons", body)
}

func (c *Client) SendList(ctx context.Context, baseURL, token string, body any) (*Result, error) {
	return c.Do(ctx, baseURL, token, http.MethodPost, "/send-list", body)
}

func (c *Client) SendMedia(ctx context.Context, baseURL, token string, body any) (*Result, error) {
	return c.Do(ctx, baseURL, token, http.MethodPost, "/send-media", body)
}
