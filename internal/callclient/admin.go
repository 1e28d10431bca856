package callclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/callrelay/internal/api"
	"github.com/ashureev/callrelay/internal/domain"
)

// Admin is a client for the relay's HTTP API.
type Admin struct {
	base string
	http *http.Client
}

// NewAdmin creates an API client for server. A nil httpClient uses a
// client with a 30s timeout.
func NewAdmin(server string, httpClient *http.Client) *Admin {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Admin{base: strings.TrimSuffix(server, "/"), http: httpClient}
}

// HTTPError is a non-2xx API response.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

func (a *Admin) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &e)
		msg := e.Error
		if msg == "" {
			msg = e.Message
		}
		return &HTTPError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ListCalls returns the live calls.
func (a *Admin) ListCalls(ctx context.Context) ([]api.CallSummary, error) {
	var out struct {
		Calls []api.CallSummary `json:"calls"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/calls", &out); err != nil {
		return nil, err
	}
	return out.Calls, nil
}

// GetCall returns the live call for identity.
func (a *Admin) GetCall(ctx context.Context, identity string) (*api.CallDetail, error) {
	var out api.CallDetail
	if err := a.do(ctx, http.MethodGet, "/api/calls/"+url.PathEscape(identity), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EndCall tears down the live call for identity.
func (a *Admin) EndCall(ctx context.Context, identity string) error {
	return a.do(ctx, http.MethodDelete, "/api/calls/"+url.PathEscape(identity), nil)
}

// Ledger returns up to limit recent call records.
func (a *Admin) Ledger(ctx context.Context, limit int) ([]domain.CallRecord, error) {
	path := "/api/ledger"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Calls []domain.CallRecord `json:"calls"`
	}
	if err := a.do(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return out.Calls, nil
}

// LedgerRecord returns the ledger entry for one call id.
func (a *Admin) LedgerRecord(ctx context.Context, callID string) (*domain.CallRecord, error) {
	var out domain.CallRecord
	if err := a.do(ctx, http.MethodGet, "/api/ledger/"+url.PathEscape(callID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Initiate asks the server to ring identity's device.
func (a *Admin) Initiate(ctx context.Context, identity string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	q := url.Values{"user_id": {identity}}
	if err := a.do(ctx, http.MethodPost, "/call/initiate?"+q.Encode(), &out); err != nil {
		return "", err
	}
	return out.Message, nil
}
