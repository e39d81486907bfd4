package users

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultField      = "telegram_user_id"
	DefaultERPTimeout = 10 * time.Second
)

// ErrBadCredentials means the host rejected a user's email and password.
var ErrBadCredentials = errors.New("erp: invalid email or password")

type ERPConfig struct {
	URL       string
	APIKey    string
	APISecret string
	Field     string
	Timeout   time.Duration
}

// ERP reads the messaging id from the host's User record over its REST API
// (GET /api/resource/User/<email>).
type ERP struct {
	base   string
	auth   string
	field  string
	client *http.Client
}

func NewERP(cfg ERPConfig) (*ERP, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, ErrNotConfigured
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("erp url: %w", err)
	}
	if cfg.Field == "" {
		cfg.Field = DefaultField
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultERPTimeout
	}
	e := &ERP{
		base:   base,
		field:  cfg.Field,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.APIKey != "" || cfg.APISecret != "" {
		e.auth = "token " + cfg.APIKey + ":" + cfg.APISecret
	}
	return e, nil
}

func (e *ERP) MessagingID(ctx context.Context, user string) (string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", nil
	}
	endpoint := e.base + "/api/resource/User/" + url.PathEscape(user)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if e.auth != "" {
		req.Header.Set("Authorization", e.auth)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("erp user lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", nil
	}
	if resp.StatusCode/100 != 2 {
		return "", statusError("erp user lookup", resp)
	}

	var out struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("erp user lookup: decode: %w", err)
	}
	return messagingID(out.Data[e.field])
}

// Login checks a user's own credentials against POST /api/method/login.
// The session it opens is discarded.
func (e *ERP) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{"usr": email, "pwd": password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.base+"/api/method/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("erp login: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrBadCredentials
	case resp.StatusCode/100 != 2:
		return statusError("erp login", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// SetMessagingID writes id into the user's messaging field with the API
// key. An empty id clears the field.
func (e *ERP) SetMessagingID(ctx context.Context, email, id string) error {
	if e.auth == "" {
		return errors.New("erp user update: api key and secret are required")
	}
	var value any
	if id = strings.TrimSpace(id); id != "" {
		value = id
	}
	body, err := json.Marshal(map[string]any{e.field: value})
	if err != nil {
		return err
	}
	endpoint := e.base + "/api/resource/User/" + url.PathEscape(strings.TrimSpace(email))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", e.auth)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("erp user update: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError("erp user update", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(b)))
}

// messagingID accepts the field as a JSON string or number; null and
// missing mean "no id".
func messagingID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", errors.New("erp user lookup: messaging id is neither string nor number")
}
