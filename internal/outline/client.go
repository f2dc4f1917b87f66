// Package outline реализует клиент API сервера ключей доступа (совместимого с Outline).
//
// Клиент выполняет ровно одну попытку на вызов: повторами управляет движок
// жизненного цикла. Ошибки сводятся к сигнальным ошибкам пакета errs.
package outline

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
)

// Итоги вызова для метрик.
const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeRejected    = "rejected"
	OutcomeNotFound    = "not_found"
)

// Операции для метрик.
const (
	OpCreate = "create"
	OpDelete = "delete"
)

// maxErrorBody сколько байт тела ошибки попадает в текст ошибки.
const maxErrorBody = 256

// KeyManager выдаёт и отзывает ключи на одном сервере.
type KeyManager interface {
	CreateKey(ctx context.Context, name string, quotaBytes *int64) (*Key, error)
	DeleteKey(ctx context.Context, keyID string) error
}

// Observer получает длительность и итог каждого вызова.
type Observer interface {
	ObserveUpstream(serverID, operation, outcome string, elapsed time.Duration)
}

// Client — клиент одного сервера ключей.
type Client struct {
	serverID   string
	endpoint   Endpoint
	httpClient *http.Client
	timeout    time.Duration
	observer   Observer
}

var _ KeyManager = (*Client)(nil)

// NewClient создаёт клиент. observer может быть nil.
func NewClient(serverID string, endpoint Endpoint, httpClient *http.Client, timeout time.Duration, observer Observer) *Client {
	return &Client{
		serverID:   serverID,
		endpoint:   endpoint,
		httpClient: httpClient,
		timeout:    timeout,
		observer:   observer,
	}
}

// CreateKey создаёт ключ с именем name. quotaBytes задаёт лимит трафика, nil — без лимита.
func (c *Client) CreateKey(ctx context.Context, name string, quotaBytes *int64) (*Key, error) {
	const op = "outline.CreateKey"
	start := time.Now()

	body := createKeyRequest{Name: name}
	if quotaBytes != nil {
		body.DataLimit = &dataLimit{Bytes: *quotaBytes}
	}

	var resp createKeyResponse
	err := c.do(ctx, http.MethodPost, c.endpoint.keysURL(), body, &resp)
	if err == nil && (resp.ID == "" || resp.AccessURL == "") {
		err = fmt.Errorf("%w: response without id or accessUrl", errs.ErrUpstreamRejected)
	}
	c.observe(OpCreate, err, start)
	if err != nil {
		return nil, fmt.Errorf("%s: server %s: %w", op, c.serverID, err)
	}
	return &Key{ID: resp.ID, Name: resp.Name, AccessURL: resp.AccessURL}, nil
}

// DeleteKey удаляет ключ. Если ключа на сервере нет, возвращает errs.ErrKeyNotFound.
func (c *Client) DeleteKey(ctx context.Context, keyID string) error {
	const op = "outline.DeleteKey"
	start := time.Now()

	err := c.do(ctx, http.MethodDelete, c.endpoint.keysURL(keyID), nil, nil)
	c.observe(OpDelete, err, start)
	if err != nil {
		return fmt.Errorf("%s: server %s key %s: %w", op, c.serverID, keyID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, in, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var buf bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", errs.ErrConfiguration, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.endpoint.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.endpoint.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if err := statusError(method, resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", errs.ErrUpstreamRejected, err)
	}
	return nil
}

// transportError классифицирует ошибку, случившуюся до получения ответа.
// Несовпадение закреплённого сертификата не лечится повтором.
func transportError(err error) error {
	var verifyErr *tls.CertificateVerificationError
	if errors.Is(err, errPinMismatch) || errors.As(err, &verifyErr) {
		return fmt.Errorf("%w: tls: %v", errs.ErrUpstreamRejected, err)
	}
	return fmt.Errorf("%w: %v", errs.ErrUpstreamUnavailable, err)
}

func statusError(method string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	switch {
	case resp.StatusCode == http.StatusNotFound && method == http.MethodDelete:
		return errs.ErrKeyNotFound
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", errs.ErrUpstreamUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d: %s", errs.ErrUpstreamRejected, resp.StatusCode, bytes.TrimSpace(snippet))
	}
}

func (c *Client) observe(operation string, err error, start time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveUpstream(c.serverID, operation, Outcome(err), time.Since(start))
}

// Outcome сводит ошибку вызова к метке для метрик.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, errs.ErrKeyNotFound):
		return OutcomeNotFound
	case errors.Is(err, errs.ErrUpstreamUnavailable):
		return OutcomeUnavailable
	default:
		return OutcomeRejected
	}
}
