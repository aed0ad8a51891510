// Package custodial is a thin client for the remote signing engine that
// holds custodial keys. Every mutating call returns a queue id that must be
// polled through TransactionStatus until the job reaches a terminal state.
package custodial

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

// DefaultHTTPTimeout bounds a single request to the engine.
const DefaultHTTPTimeout = 15 * time.Second

const (
	headerBackendWallet = "X-Backend-Wallet-Address"
	headerAccount       = "X-Account-Address"
)

// CodeCustodialFailure marks transport or non-2xx failures talking to the engine.
const CodeCustodialFailure xerrors.Code = "CUSTODIAL_FAILURE"

func init() {
	xerrors.Register(CodeCustodialFailure, xerrors.Attributes{
		Message:   "custodial signing service failure",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// JobState is the lifecycle state reported for a queued transaction.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobPending   JobState = "pending"
	JobSent      JobState = "sent"
	JobMined     JobState = "mined"
	JobErrored   JobState = "errored"
	JobCancelled JobState = "cancelled"
	JobTimedOut  JobState = "timed_out"
)

// Transaction is the engine's request shape for a contract or value call.
type Transaction struct {
	ToAddress string `json:"toAddress"`
	Value     string `json:"value"`
	Data      string `json:"data"`
}

// JobStatus is the decoded body of transaction/status/{queueId}.
type JobStatus struct {
	QueueID         string   `json:"queueId"`
	Status          JobState `json:"status"`
	TransactionHash *string  `json:"transactionHash"`
	ErrorMessage    string   `json:"errorMessage"`
}

// Hash returns the reported transaction hash, or "" while none is known.
func (s JobStatus) Hash() string {
	if s.TransactionHash == nil {
		return ""
	}
	return *s.TransactionHash
}

// Config describes how to reach the engine.
type Config struct {
	BaseURL   string
	AccessKey string
	// BackendWallet is the engine wallet that pays for and relays account
	// transactions; it is also the admin wallet.
	BackendWallet string
	Timeout       time.Duration
}

// Client wraps the engine REST API.
type Client struct {
	baseURL       *url.URL
	accessKey     string
	backendWallet string
	httpClient    *http.Client
}

// NewClient validates cfg and returns a client. A nil httpClient gets a
// default client with Config.Timeout.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("custodial: base url is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("custodial: invalid base url: %w", err)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:       parsed,
		accessKey:     cfg.AccessKey,
		backendWallet: cfg.BackendWallet,
		httpClient:    httpClient,
	}, nil
}

// BackendWallet returns the configured relaying wallet address.
func (c *Client) BackendWallet() string {
	return c.backendWallet
}

// CreateBackendWallet provisions a new custodial wallet and returns its address.
func (c *Client) CreateBackendWallet(ctx context.Context) (string, error) {
	var out struct {
		Result struct {
			Status        string `json:"status"`
			Message       string `json:"message"`
			WalletAddress string `json:"walletAddress"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "backend-wallet/create", struct{}{}, nil, &out); err != nil {
		return "", err
	}
	if out.Result.Status != "success" {
		return "", xerrors.New(CodeCustodialFailure, "create backend wallet: "+out.Result.Message)
	}
	return out.Result.WalletAddress, nil
}

// SendTransaction queues tx on behalf of account. An empty account sends
// from the backend wallet itself.
func (c *Client) SendTransaction(ctx context.Context, chainID uint64, account string, tx Transaction) (string, error) {
	headers := map[string]string{headerBackendWallet: c.backendWallet}
	if account != "" {
		headers[headerAccount] = account
	}
	return c.queue(ctx, fmt.Sprintf("backend-wallet/%d/send-transaction", chainID), tx, headers)
}

// SendTransactionBatch queues several transactions from the backend wallet.
func (c *Client) SendTransactionBatch(ctx context.Context, chainID uint64, txs []Transaction) (string, error) {
	headers := map[string]string{headerBackendWallet: c.backendWallet}
	return c.queue(ctx, fmt.Sprintf("backend-wallet/%d/send-transaction-batch", chainID), txs, headers)
}

// ERC20TransferFrom queues a token transfer. amount is in whole-token units
// as a decimal string.
func (c *Client) ERC20TransferFrom(ctx context.Context, chainID uint64, token, from, to, amount string) (string, error) {
	body := map[string]string{
		"fromAddress": from,
		"toAddress":   to,
		"amount":      amount,
	}
	headers := map[string]string{
		headerBackendWallet: c.backendWallet,
		headerAccount:       from,
	}
	return c.queue(ctx, fmt.Sprintf("contract/%d/%s/erc20/transfer-from", chainID, token), body, headers)
}

// TransactionStatus returns the current state of a queued job.
func (c *Client) TransactionStatus(ctx context.Context, queueID string) (JobStatus, error) {
	var out struct {
		Result JobStatus `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "transaction/status/"+url.PathEscape(queueID), nil, nil, &out); err != nil {
		return JobStatus{}, err
	}
	if out.Result.QueueID == "" {
		out.Result.QueueID = queueID
	}
	return out.Result, nil
}

// SignTransaction asks the engine to sign tx with wallet and returns the
// signed payload as hex.
func (c *Client) SignTransaction(ctx context.Context, wallet string, tx map[string]any) (string, error) {
	var out struct {
		Result string `json:"result"`
	}
	headers := map[string]string{headerBackendWallet: wallet}
	if err := c.do(ctx, http.MethodPost, "backend-wallet/sign-transaction", map[string]any{"transaction": tx}, headers, &out); err != nil {
		return "", err
	}
	return out.Result, nil
}

// Nonce returns the engine's view of the next nonce for address.
func (c *Client) Nonce(ctx context.Context, chainID uint64, address string) (uint64, error) {
	var out struct {
		Result struct {
			Nonce json.Number `json:"nonce"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("backend-wallet/%d/%s/get-nonce", chainID, address), nil, nil, &out); err != nil {
		return 0, err
	}
	n, err := parseUint(out.Result.Nonce)
	if err != nil {
		return 0, xerrors.Wrap(CodeCustodialFailure, err, "decode nonce")
	}
	return n, nil
}

// ERC20Decimals returns the token's decimals as reported by the engine.
func (c *Client) ERC20Decimals(ctx context.Context, chainID uint64, token string) (uint8, error) {
	var out struct {
		Result struct {
			Decimals json.Number `json:"decimals"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("contract/%d/%s/erc20/get", chainID, token), nil, nil, &out); err != nil {
		return 0, err
	}
	n, err := parseUint(out.Result.Decimals)
	if err != nil || n > 255 {
		return 0, xerrors.Wrap(CodeCustodialFailure, err, "decode token decimals")
	}
	return uint8(n), nil
}

func (c *Client) queue(ctx context.Context, endpoint string, payload any, headers map[string]string) (string, error) {
	var out struct {
		Result struct {
			QueueID string `json:"queueId"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, endpoint, payload, headers, &out); err != nil {
		return "", err
	}
	if out.Result.QueueID == "" {
		return "", xerrors.New(CodeCustodialFailure, endpoint+": response carried no queue id")
	}
	return out.Result.QueueID, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any, headers map[string]string, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("custodial: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return fmt.Errorf("custodial: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(CodeCustodialFailure, err, method+" "+endpoint)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return xerrors.Wrap(CodeCustodialFailure, err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return xerrors.New(CodeCustodialFailure,
			fmt.Sprintf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(data))),
			xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode)))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return xerrors.Wrap(CodeCustodialFailure, err, "decode response")
	}
	return nil
}

func parseUint(n json.Number) (uint64, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, errors.New("empty number")
	}
	var v uint64
	if _, err := fmt.Sscan(s, &v); err != nil {
		return 0, err
	}
	return v, nil
}
