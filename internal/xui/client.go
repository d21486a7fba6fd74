// Package xui работает с панелью 3X-UI: вход по cookie-сессии и управление клиентами инбаундов.
package xui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"vpn-subscription-backend/config"
)

var (
	ErrLoginFailed    = errors.New("xui login failed")
	ErrClientNotFound = errors.New("client not found in inbound")
)

// APIError неуспешный ответ панели.
type APIError struct {
	Op     string
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("xui %s: status %d: %s", e.Op, e.Status, e.Msg)
}

type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

type Inbound struct {
	ID       int    `json:"id"`
	Remark   string `json:"remark"`
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
	Enable   bool   `json:"enable"`
	Settings string `json:"settings"`
}

// Clients разбирает settings.clients инбаунда. У клиента сохраняются все
// поля, которые вернула панель.
func (in Inbound) Clients() []map[string]any {
	var settings struct {
		Clients []map[string]any `json:"clients"`
	}
	if in.Settings == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(in.Settings), &settings); err != nil {
		return nil
	}
	return settings.Clients
}

// FindClient ищет clientUUID среди id и email клиентов и возвращает клиента
// и идентификатор, под которым его знает панель.
func FindClient(clients []map[string]any, clientUUID string) (map[string]any, string) {
	for _, c := range clients {
		id := fmt.Sprint(valueOr(c["id"], ""))
		email := fmt.Sprint(valueOr(c["email"], ""))
		if id == clientUUID || email == clientUUID {
			if id != "" {
				return c, id
			}
			return c, email
		}
	}
	return nil, ""
}

type Client struct {
	baseURL  string
	username string
	password string
	timeout  time.Duration
	http     *http.Client
	loggedIn atomic.Bool
	log      *zap.Logger
}

func NewClient(cfg config.XUIConfig, log *zap.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		timeout:  timeout,
		http:     &http.Client{Jar: jar},
		log:      log,
	}, nil
}

// Login открывает cookie-сессию.
func (c *Client) Login(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{"username": {c.username}, "password": {c.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	success := false
	if resp.StatusCode == http.StatusOK {
		var body apiResponse
		if err := json.Unmarshal(raw, &body); err == nil {
			success = body.Success
		} else {
			success = strings.Contains(strings.ToLower(string(raw)), "success")
		}
	}
	if !success {
		c.log.Error("xui login failed", zap.Int("status", resp.StatusCode), zap.String("body", truncate(raw)))
		return fmt.Errorf("%w: status %d", ErrLoginFailed, resp.StatusCode)
	}
	c.loggedIn.Store(true)
	c.log.Info("xui login succeeded")
	return nil
}

// call выполняет один запрос к API. На 401/403/404 заново входит и повторяет
// запрос один раз: без сессии панель отвечает 404.
func (c *Client) call(ctx context.Context, op, method, path string, payload any) (*apiResponse, error) {
	if !c.loggedIn.Load() {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}
	status, body, raw, err := c.send(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusNotFound {
		c.loggedIn.Store(false)
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		status, body, raw, err = c.send(ctx, method, path, payload)
		if err != nil {
			return nil, err
		}
	}
	if status != http.StatusOK || body == nil || !body.Success {
		msg := truncate(raw)
		if body != nil && body.Msg != "" {
			msg = body.Msg
		}
		return nil, &APIError{Op: op, Status: status, Msg: msg}
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload any) (int, *apiResponse, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("xui %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, nil, err
	}
	var body apiResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return resp.StatusCode, nil, raw, nil
	}
	return resp.StatusCode, &body, raw, nil
}

func (c *Client) ListInbounds(ctx context.Context) ([]Inbound, error) {
	resp, err := c.call(ctx, "list_inbounds", http.MethodGet, "/panel/api/inbounds/list", nil)
	if err != nil {
		return nil, err
	}
	var inbounds []Inbound
	if len(resp.Obj) > 0 {
		if err := json.Unmarshal(resp.Obj, &inbounds); err != nil {
			return nil, fmt.Errorf("decode inbounds: %w", err)
		}
	}
	return inbounds, nil
}

func (c *Client) GetInbound(ctx context.Context, inboundID int) (*Inbound, error) {
	resp, err := c.call(ctx, "get_inbound", http.MethodGet, fmt.Sprintf("/panel/api/inbounds/get/%d", inboundID), nil)
	if err != nil {
		return nil, err
	}
	var inbound Inbound
	if err := json.Unmarshal(resp.Obj, &inbound); err != nil {
		return nil, fmt.Errorf("decode inbound %d: %w", inboundID, err)
	}
	return &inbound, nil
}

// AddClient добавляет clientUUID в инбаунд. Уже существующий, но
// отключённый клиент включается обратно. Новый клиент копирует настройки
// первого клиента инбаунда.
func (c *Client) AddClient(ctx context.Context, inboundID int, clientUUID string) error {
	inbound, err := c.GetInbound(ctx, inboundID)
	if err != nil {
		return err
	}
	clients := inbound.Clients()
	if existing, clientID := FindClient(clients, clientUUID); existing != nil {
		if enabled, _ := existing["enable"].(bool); enabled {
			return nil
		}
		c.log.Info("re-enabling client", zap.Int("inbound_id", inboundID), zap.String("client_id", clientUUID))
		return c.updateClient(ctx, "enable_client", inboundID, existing, clientID, true)
	}
	var template map[string]any
	if len(clients) > 0 {
		template = clients[0]
	}
	settings, err := json.Marshal(map[string]any{"clients": []map[string]any{newClientPayload(template, clientUUID)}})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "add_client", http.MethodPost, "/panel/api/inbounds/addClient", map[string]any{
		"id":       inboundID,
		"settings": string(settings),
	})
	return err
}

// DisableClient выставляет клиенту enable=false.
func (c *Client) DisableClient(ctx context.Context, inboundID int, clientUUID string) error {
	inbound, err := c.GetInbound(ctx, inboundID)
	if err != nil {
		return err
	}
	existing, clientID := FindClient(inbound.Clients(), clientUUID)
	if existing == nil {
		return fmt.Errorf("inbound %d: %w", inboundID, ErrClientNotFound)
	}
	return c.updateClient(ctx, "disable_client", inboundID, existing, clientID, false)
}

// updateClient сохраняет клиента со всеми его полями и новым значением enable.
func (c *Client) updateClient(ctx context.Context, op string, inboundID int, existing map[string]any, clientID string, enable bool) error {
	updated := make(map[string]any, len(existing)+1)
	for k, v := range existing {
		updated[k] = v
	}
	updated["enable"] = enable
	settings, err := json.Marshal(map[string]any{"clients": []map[string]any{updated}})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, op, http.MethodPost, "/panel/api/inbounds/updateClient/"+url.PathEscape(clientID), map[string]any{
		"id":       inboundID,
		"settings": string(settings),
	})
	return err
}

// RemoveClient удаляет клиента по email.
func (c *Client) RemoveClient(ctx context.Context, inboundID int, clientUUID string) error {
	inbound, err := c.GetInbound(ctx, inboundID)
	if err != nil {
		return err
	}
	email := clientUUID
	if existing, _ := FindClient(inbound.Clients(), clientUUID); existing != nil {
		if e, ok := existing["email"].(string); ok && e != "" {
			email = e
		}
	}
	path := fmt.Sprintf("/panel/api/inbounds/%d/delClientByEmail/%s", inboundID, url.PathEscape(email))
	_, err = c.call(ctx, "remove_client", http.MethodPost, path, nil)
	return err
}

func newClientPayload(template map[string]any, clientUUID string) map[string]any {
	client := make(map[string]any, len(template)+8)
	for k, v := range template {
		client[k] = v
	}
	client["id"] = clientUUID
	client["email"] = clientUUID
	client["enable"] = true
	for key, def := range map[string]any{"flow": "", "limitIp": 0, "totalGB": 0, "expiryTime": 0, "reset": 0} {
		if v, ok := client[key]; !ok || v == nil {
			client[key] = def
		}
	}
	delete(client, "subId")
	return client
}

func valueOr(v, def any) any {
	if v == nil {
		return def
	}
	return v
}

func truncate(raw []byte) string {
	if len(raw) > 200 {
		return string(raw[:200])
	}
	return string(raw)
}
