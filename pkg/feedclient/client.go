/**
 * @description
 * This package provides a client for reading Chainlink-style price feeds over
 * an HTTP aggregator gateway. It encapsulates the logic for making
 * authenticated requests to the feed endpoints and parsing the latest round
 * data. Freshness validation of the returned round is the vault's job; this
 * client only reports what the feed said.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package feedclient

import (
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

// Client is a client for the price feed gateway.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new price feed client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// roundResponse is the expected response from the feed gateway's latest-round
// endpoint, mirroring the aggregator's latestRoundData tuple.
type roundResponse struct {
	Data struct {
		RoundID         uint64 `json:"roundId"`
		AnsweredInRound uint64 `json:"answeredInRound"`
		Answer          int64  `json:"answer"`
		Decimals        uint8  `json:"decimals"`
		UpdatedAt       int64  `json:"updatedAt"`
	} `json:"data"`
}

// ErrorResponse represents an error from the feed gateway.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("feed gateway error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown feed gateway error"
}

// LatestRound fetches the most recent round for the given feed.
func (c *Client) LatestRound(ctx context.Context, feedID string) (domain.FeedRound, error) {
	endpoint := c.BaseURL + "/api/v1/feeds/" + url.PathEscape(feedID) + "/latest"

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return domain.FeedRound{}, fmt.Errorf("failed to create feed request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-feed-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return domain.FeedRound{}, fmt.Errorf("failed to execute feed request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.FeedRound{}, fmt.Errorf("failed to read feed response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=feed_client op=latest_round feed_id=%s status=%d msg=\"non-2xx response (unparsable error body)\"", feedID, resp.StatusCode)
			return domain.FeedRound{}, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=feed_client op=latest_round feed_id=%s status=%d err=%q", feedID, resp.StatusCode, errResp.Error())
		return domain.FeedRound{}, &errResp
	}

	var round roundResponse
	if err := json.Unmarshal(bodyBytes, &round); err != nil {
		return domain.FeedRound{}, fmt.Errorf("failed to decode round response: %w", err)
	}

	return domain.FeedRound{
		RoundID:         round.Data.RoundID,
		AnsweredInRound: round.Data.AnsweredInRound,
		Price:           round.Data.Answer,
		Decimals:        round.Data.Decimals,
		UpdatedAt:       round.Data.UpdatedAt,
	}, nil
}
