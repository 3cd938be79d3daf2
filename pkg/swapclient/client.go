/**
 * @description
 * This package provides a client for a Uniswap-V2-style router gateway. It
 * encapsulates quoting expected output for a two-hop path into the accounting
 * currency and executing exact-input swaps with a minimum-output floor and a
 * validity deadline. The router enforces the floor and the deadline; the
 * client only relays them.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package swapclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/kipubank/vault-service/internal/domain"
)

// Client is a client for the swap router gateway.
type Client struct {
	BaseURL    string
	APIKey     string
	AssetOut   string // the accounting currency every path terminates in
	HTTPClient *http.Client
}

// NewClient creates a new router client. assetOut is the accounting currency
// all swaps settle into.
func NewClient(baseURL, apiKey, assetOut string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		AssetOut: assetOut,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// swapRequest is the payload for an exact-input swap.
type swapRequest struct {
	Data struct {
		AssetIn   string `json:"assetIn"`
		AssetOut  string `json:"assetOut"`
		AmountIn  uint64 `json:"amountIn"`
		MinOut    uint64 `json:"minOut"`
		Deadline  int64  `json:"deadline"` // unix seconds
		ExactSide string `json:"exactSide"`
	} `json:"data"`
}

// swapResponse is the expected response from the router's swap endpoint.
type swapResponse struct {
	Data struct {
		AmountIn  uint64 `json:"amountIn"`
		AmountOut uint64 `json:"amountOut"`
	} `json:"data"`
}

// quoteResponse is the expected response from the router's quote endpoint.
type quoteResponse struct {
	Data struct {
		AmountOut uint64 `json:"amountOut"`
	} `json:"data"`
}

// ErrorResponse represents an error from the router gateway.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("router error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown router error"
}

// QuoteOut returns the expected output of swapping amountIn of assetIn into
// the accounting currency. Read-only; no funds move.
func (c *Client) QuoteOut(ctx context.Context, assetIn string, amountIn uint64) (uint64, error) {
	endpoint := fmt.Sprintf("%s/api/v1/quotes?assetIn=%s&assetOut=%s&amountIn=%d",
		c.BaseURL, url.QueryEscape(assetIn), url.QueryEscape(c.AssetOut), amountIn)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create quote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-router-key", c.APIKey)

	bodyBytes, err := c.do(req, "quote")
	if err != nil {
		return 0, err
	}

	var quote quoteResponse
	if err := json.Unmarshal(bodyBytes, &quote); err != nil {
		return 0, fmt.Errorf("failed to decode quote response: %w", err)
	}
	return quote.Data.AmountOut, nil
}

// SwapExactIn executes an exact-input swap of assetIn into the accounting
// currency. The router rejects settlement below minOut or past the deadline.
func (c *Client) SwapExactIn(ctx context.Context, assetIn string, amountIn, minOut uint64, deadline time.Time) (domain.SwapReceipt, error) {
	reqPayload := swapRequest{}
	reqPayload.Data.AssetIn = assetIn
	reqPayload.Data.AssetOut = c.AssetOut
	reqPayload.Data.AmountIn = amountIn
	reqPayload.Data.MinOut = minOut
	reqPayload.Data.Deadline = deadline.Unix()
	reqPayload.Data.ExactSide = "in"

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return domain.SwapReceipt{}, fmt.Errorf("failed to marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/swaps", bytes.NewBuffer(body))
	if err != nil {
		return domain.SwapReceipt{}, fmt.Errorf("failed to create swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-router-key", c.APIKey)

	bodyBytes, err := c.do(req, "swap")
	if err != nil {
		return domain.SwapReceipt{}, err
	}

	var swap swapResponse
	if err := json.Unmarshal(bodyBytes, &swap); err != nil {
		return domain.SwapReceipt{}, fmt.Errorf("failed to decode swap response: %w", err)
	}
	return domain.SwapReceipt{AmountIn: swap.Data.AmountIn, AmountOut: swap.Data.AmountOut}, nil
}

// do executes a request and returns the body, translating non-2xx responses
// into typed errors.
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=router_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=router_client op=%s status=%d err=%q", op, resp.StatusCode, errResp.Error())
		return nil, &errResp
	}
	return bodyBytes, nil
}
