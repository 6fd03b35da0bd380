package blockchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Client is a JSON-RPC client for an Ethereum-style node, wrapped in a
// circuit breaker so a flapping node stops being hammered. It implements
// both Oracle and Broadcaster.
type Client struct {
	rpcURL        string
	httpClient    *http.Client
	breaker       *gobreaker.CircuitBreaker
	confirmations int64
	logger        zerolog.Logger
}

type ClientConfig struct {
	RPCURL string
	// Timeout bounds each RPC round trip. A timed-out query is a failed
	// query, reported as pending.
	Timeout time.Duration
	// Confirmations is the depth at which the node's answer counts as
	// confirmed.
	Confirmations int64
}

func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Confirmations <= 0 {
		cfg.Confirmations = 12
	}

	settings := gobreaker.Settings{
		Name: "blockchain-rpc",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}

	return &Client{
		rpcURL:        cfg.RPCURL,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		breaker:       gobreaker.NewCircuitBreaker(settings),
		confirmations: cfg.Confirmations,
		logger:        logger,
	}
}

// CheckTransactionStatus asks the node for the receipt of hash. Any
// transport error, breaker rejection or malformed answer degrades to
// {pending, 0}: the caller retries later instead of failing the money.
func (c *Client) CheckTransactionStatus(ctx context.Context, hash string) (TxStatus, error) {
	pending := TxStatus{Status: StatusPending, Confirmations: 0}

	var receipt struct {
		BlockNumber string `json:"blockNumber"`
		Status      string `json:"status"`
	}
	found, err := c.call(ctx, "eth_getTransactionReceipt", []any{hash}, &receipt)
	if err != nil {
		c.logger.Error().Err(err).Str("hash", hash).Msg("Blockchain check failed")
		return pending, nil
	}
	if !found || receipt.BlockNumber == "" {
		// Not mined yet.
		return pending, nil
	}

	blockNumber, err := parseHexUint(receipt.BlockNumber)
	if err != nil {
		c.logger.Error().Err(err).Str("hash", hash).Msg("Malformed receipt block number")
		return pending, nil
	}

	currentBlock, err := c.currentBlock(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to fetch current block")
		return pending, nil
	}

	confirmations := currentBlock - blockNumber
	if confirmations < 0 {
		confirmations = 0
	}

	status := StatusPending
	if confirmations >= c.confirmations {
		status = StatusConfirmed
	}

	return TxStatus{
		Status:        status,
		Confirmations: confirmations,
		BlockNumber:   blockNumber,
		Success:       receipt.Status == "0x1",
	}, nil
}

// SendTransaction broadcasts a withdrawal through the node. Signing and key
// custody are the node's problem, not ours.
func (c *Client) SendTransaction(ctx context.Context, toAddress, amount, currency string) (string, error) {
	params := []any{map[string]string{
		"to":       toAddress,
		"value":    amount,
		"currency": currency,
	}}

	var hash string
	found, err := c.call(ctx, "eth_sendTransaction", params, &hash)
	if err != nil {
		return "", err
	}
	if !found || hash == "" {
		return "", fmt.Errorf("%w: node returned no transaction hash", ErrUnavailable)
	}
	return hash, nil
}

func (c *Client) currentBlock(ctx context.Context) (int64, error) {
	var hexNumber string
	found, err := c.call(ctx, "eth_blockNumber", []any{}, &hexNumber)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: empty block number", ErrUnavailable)
	}
	return parseHexUint(hexNumber)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC round trip through the circuit breaker.
// It reports found=false when the node answers with a null result.
func (c *Client) call(ctx context.Context, method string, params any, out any) (bool, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
		}

		var rpcResp rpcResponse
		if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if rpcResp.Error != nil {
			return nil, fmt.Errorf("%w: rpc error %d: %s", ErrUnavailable, rpcResp.Error.Code, rpcResp.Error.Message)
		}
		return rpcResp.Result, nil
	})
	if err != nil {
		return false, err
	}

	raw := result.(json.RawMessage)
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("%w: malformed result: %v", ErrUnavailable, err)
	}
	return true, nil
}

func parseHexUint(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(s, "0x"), 16, 64)
}
