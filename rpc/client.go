package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zkpoison/poisonnet/core"
	"github.com/zkpoison/poisonnet/vm/modules/poison"
)

// Client is a JSON-RPC 2.0 HTTP client for a poisonnet node. It is safe
// for concurrent use.
type Client struct {
	url       string
	authToken string
	http      *http.Client
	nextID    atomic.Uint64
}

// NewClient creates a Client for the node at url (e.g. "http://localhost:8545").
func NewClient(url string) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// SetAuthToken sets the bearer token sent with every request.
func (c *Client) SetAuthToken(token string) { c.authToken = token }

// SetHTTPClient replaces the underlying HTTP client, e.g. to install a
// TLS config for an mTLS-protected node.
func (c *Client) SetHTTPClient(h *http.Client) { c.http = h }

// CallError is a non-game JSON-RPC error returned by the node.
type CallError struct {
	Code    int
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call performs one JSON-RPC request and decodes the result into out
// (which may be nil to discard the result).
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		rawParams = data
	}
	reqBody, err := json.Marshal(Request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 4*1024*1024))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if resp.Error != nil {
		return decodeError(resp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// decodeError maps a JSON-RPC error object to a Go error. Rule violations
// carry their code in the structured data field; that is the only path a
// conforming node uses. The message scan below is a compatibility
// fallback for nodes that predate structured error data, and is never
// consulted when data is present.
func decodeError(e *Error) error {
	if e.Data != nil && e.Data.GameCode != 0 {
		return &core.GameError{Code: core.GameCode(e.Data.GameCode), Msg: e.Message}
	}
	if gc := scanGameCode(e.Message); gc != 0 {
		return &core.GameError{Code: gc, Msg: e.Message}
	}
	return &CallError{Code: e.Code, Message: e.Message}
}

// scanGameCode recognises a game code by its snake_case name at the start
// of the message, the shape GameError.Error() produces.
func scanGameCode(msg string) core.GameCode {
	for gc := core.CodeSessionNotFound; gc <= core.CodeInsufficientBalance; gc++ {
		if strings.HasPrefix(msg, gc.String()+":") {
			return gc
		}
	}
	return 0
}

// BlockHeight returns the current chain height (-1 before genesis).
func (c *Client) BlockHeight(ctx context.Context) (int64, error) {
	var height int64
	if err := c.call(ctx, "getBlockHeight", nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// GetAccount returns the balance and nonce of address.
func (c *Client) GetAccount(ctx context.Context, address string) (balance, nonce uint64, err error) {
	var out struct {
		Balance uint64 `json:"balance"`
		Nonce   uint64 `json:"nonce"`
	}
	if err := c.call(ctx, "getBalance", map[string]string{"address": address}, &out); err != nil {
		return 0, 0, err
	}
	return out.Balance, out.Nonce, nil
}

// GetSession fetches a game session. Returns core.ErrNotFound if the
// session does not exist yet.
func (c *Client) GetSession(ctx context.Context, id uint32) (*core.GameSession, error) {
	var out sessionResult
	if err := c.call(ctx, "getSession", map[string]uint32{"id": id}, &out); err != nil {
		return nil, err
	}
	if !out.Found {
		return nil, core.ErrNotFound
	}
	return out.Session, nil
}

// GetSessionsByPlayer lists the session IDs a player participated in.
func (c *Client) GetSessionsByPlayer(ctx context.Context, player string) ([]uint32, error) {
	var ids []uint32
	if err := c.call(ctx, "getSessionsByPlayer", map[string]string{"player": player}, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SimulateOpen dry-runs a session_open payload and returns the
// authorizations the ledger would require. Auth entries in p are ignored
// by the node.
func (c *Client) SimulateOpen(ctx context.Context, p *core.SessionOpenPayload) ([]poison.AuthRequirement, error) {
	var out struct {
		RequiredAuths []poison.AuthRequirement `json:"required_auths"`
	}
	if err := c.call(ctx, "simulateOpen", p, &out); err != nil {
		return nil, err
	}
	return out.RequiredAuths, nil
}

// SubmitTx submits a signed transaction and returns its server-computed ID.
func (c *Client) SubmitTx(ctx context.Context, tx *core.Transaction) (string, error) {
	var out struct {
		TxID string `json:"tx_id"`
	}
	if err := c.call(ctx, "sendTx", tx, &out); err != nil {
		return "", err
	}
	return out.TxID, nil
}

// MempoolSize returns the node's pending transaction count.
func (c *Client) MempoolSize(ctx context.Context) (int, error) {
	var n int
	if err := c.call(ctx, "getMempoolSize", nil, &n); err != nil {
		return 0, err
	}
	return n, nil
}
