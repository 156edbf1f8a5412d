package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotCommitted is returned by Receipt while a tx is still pending.
var ErrNotCommitted = errors.New("transaction not committed")

// Client is a thin REST client for a node's API, used by tooling.
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Body   ErrorResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Body.Error, e.Body.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode}
		json.NewDecoder(resp.Body).Decode(&apiErr.Body)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Exchange(ctx context.Context) (ExchangeInfo, error) {
	var out ExchangeInfo
	err := c.do(ctx, http.MethodGet, "/api/v1/exchange", nil, &out)
	return out, err
}

func (c *Client) Tokens(ctx context.Context) ([]TokenInfo, error) {
	var out []TokenInfo
	err := c.do(ctx, http.MethodGet, "/api/v1/tokens", nil, &out)
	return out, err
}

func (c *Client) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	var out NonceInfo
	err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+addr.Hex()+"/nonce", nil, &out)
	return out.Nonce, err
}

func (c *Client) Submit(ctx context.Context, rawTx []byte) (SubmitTxResponse, error) {
	var out SubmitTxResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/tx", rawTx, &out)
	return out, err
}

func (c *Client) Receipt(ctx context.Context, txHash string) (TxReceipt, error) {
	var out TxReceipt
	err := c.do(ctx, http.MethodGet, "/api/v1/tx/"+txHash, nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return out, ErrNotCommitted
	}
	return out, err
}

// WaitReceipt polls until txHash is committed or ctx ends.
func (c *Client) WaitReceipt(ctx context.Context, txHash string, every time.Duration) (TxReceipt, error) {
	for {
		rc, err := c.Receipt(ctx, txHash)
		if !errors.Is(err, ErrNotCommitted) {
			return rc, err
		}
		select {
		case <-ctx.Done():
			return rc, ctx.Err()
		case <-time.After(every):
		}
	}
}
