// Package walletapi talks to the external user/wallet storage service. The
// service keeps one record per (user, network type); private keys and
// mnemonics are stored sealed and never leave this process in clear.
package walletapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	xerrors "FlowWallet-Chain/internal/errors"
)

// DefaultHTTPTimeout bounds a single storage request.
const DefaultHTTPTimeout = 15 * time.Second

const sysKeyHeader = "X-SYS-KEY"

// Network types written by the storage service.
const (
	NetworkLocal     = "guru"
	NetworkCustodial = "thirdweb_ecosystem"
)

// Record is one stored wallet as returned by ListWallets.
type Record struct {
	NetworkType   string `json:"network_type"`
	WalletAddress string `json:"wallet_address"`
	PrivateKey    string `json:"private_key,omitempty"`
}

// UserUpdate is the body of PUT /api/users. Sealed fields are empty for
// custodial wallets.
type UserUpdate struct {
	WalletAddress string `json:"wallet_address"`
	OwnerID       string `json:"camunda_user_id"`
	NetworkType   string `json:"network_type"`
	PrivateKey    string `json:"private_key,omitempty"`
	Mnemonic      string `json:"mnemonic,omitempty"`
}

// HTTPError describes a non-2xx answer from the storage service.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return ""
	}
	if e.Body == "" {
		return fmt.Sprintf("walletapi: status %d", e.StatusCode)
	}
	return fmt.Sprintf("walletapi: status %d: %s", e.StatusCode, e.Body)
}

// Config describes the storage endpoint.
type Config struct {
	BaseURL string
	SysKey  string
	Timeout time.Duration
}

// Client is a REST client for the storage service.
type Client struct {
	baseURL    *url.URL
	sysKey     string
	httpClient *http.Client
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("walletapi: base url is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("walletapi: invalid base url: %w", err)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: parsed, sysKey: cfg.SysKey, httpClient: httpClient}, nil
}

// ListWallets returns every wallet stored for the identity idType=value.
func (c *Client) ListWallets(ctx context.Context, idType, value string) ([]Record, error) {
	query := url.Values{}
	query.Set(idType, value)
	var records []Record
	if err := c.do(ctx, http.MethodGet, "api/wallets", query, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// SaveUser upserts a wallet record.
func (c *Client) SaveUser(ctx context.Context, update UserUpdate) error {
	return c.do(ctx, http.MethodPut, "api/users", nil, update, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("walletapi: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return fmt.Errorf("walletapi: create request: %w", err)
	}
	req.Header.Set(sysKeyHeader, c.sysKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, method+" "+endpoint)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		return xerrors.Wrap(xerrors.CodeStorageFailure, httpErr, method+" "+endpoint,
			xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode)))
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode response")
	}
	return nil
}
