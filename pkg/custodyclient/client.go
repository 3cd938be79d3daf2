/**
 * @description
 * This package provides a client for the token custody rail — the service
 * that actually moves asset units between external accounts and the vault's
 * custody account, and that manages spend allowances for the swap router.
 * It encapsulates the logic for making authenticated HTTP requests to the
 * custody endpoints, handling request body construction, and parsing
 * responses.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package custodyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the custody rail API.
type Client struct {
	BaseURL        string
	APIKey         string
	CustodyAccount string
	HTTPClient     *http.Client
}

// NewClient creates a new custody client. custodyAccount is the vault's own
// account on the rail; pulls land there and releases draw from it.
func NewClient(baseURL, apiKey, custodyAccount string) *Client {
	return &Client{
		BaseURL:        baseURL,
		APIKey:         apiKey,
		CustodyAccount: custodyAccount,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// transferRequest is the payload for pull and release operations.
type transferRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Asset  string `json:"asset"`
			Amount uint64 `json:"amount"`
		} `json:"attributes"`
		Relationships struct {
			Source struct {
				ID string `json:"id"`
			} `json:"source"`
			Destination struct {
				ID string `json:"id"`
			} `json:"destination"`
		} `json:"relationships"`
	} `json:"data"`
}

// approvalRequest is the payload for allowance changes.
type approvalRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Asset   string `json:"asset"`
			Amount  uint64 `json:"amount"`
			Owner   string `json:"owner"`
			Spender string `json:"spender"`
		} `json:"attributes"`
	} `json:"data"`
}

// ErrorResponse represents an error from the custody API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("custody api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown custody api error"
}

// Pull draws `amount` of `asset` from the depositor's account into the
// vault's custody account.
func (c *Client) Pull(ctx context.Context, asset, from string, amount uint64) error {
	reqPayload := transferRequest{}
	reqPayload.Data.Type = "Pull"
	reqPayload.Data.Attributes.Asset = asset
	reqPayload.Data.Attributes.Amount = amount
	reqPayload.Data.Relationships.Source.ID = from
	reqPayload.Data.Relationships.Destination.ID = c.CustodyAccount

	return c.post(ctx, "/api/v1/transfers", "pull", reqPayload)
}

// Release pays `amount` of `asset` out of custody to the given account.
func (c *Client) Release(ctx context.Context, asset, to string, amount uint64) error {
	reqPayload := transferRequest{}
	reqPayload.Data.Type = "Release"
	reqPayload.Data.Attributes.Asset = asset
	reqPayload.Data.Attributes.Amount = amount
	reqPayload.Data.Relationships.Source.ID = c.CustodyAccount
	reqPayload.Data.Relationships.Destination.ID = to

	return c.post(ctx, "/api/v1/transfers", "release", reqPayload)
}

// Approve sets the spender's allowance on the custody account to exactly
// `amount`. Zero revokes the allowance.
func (c *Client) Approve(ctx context.Context, asset, spender string, amount uint64) error {
	reqPayload := approvalRequest{}
	reqPayload.Data.Type = "Approval"
	reqPayload.Data.Attributes.Asset = asset
	reqPayload.Data.Attributes.Amount = amount
	reqPayload.Data.Attributes.Owner = c.CustodyAccount
	reqPayload.Data.Attributes.Spender = spender

	return c.post(ctx, "/api/v1/approvals", "approve", reqPayload)
}

// post is a generic helper to execute custody mutations.
func (c *Client) post(ctx context.Context, path, op string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-custody-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=custody_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=custody_client op=%s status=%d err=%q", op, resp.StatusCode, errResp.Error())
		return &errResp
	}
	return nil
}
