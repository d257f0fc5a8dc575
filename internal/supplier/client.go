// Package supplier adapts the external reward supplier's HTTP API into a
// classified result: every transport or protocol error becomes exactly one of
// success, retryable failure, or permanent failure. Nothing unclassified
// crosses this boundary; the retry policy engine depends on that.
package supplier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status of a classified issuance result.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusRetryable Status = "retryable"
	StatusPermanent Status = "permanent"
)

type Request struct {
	AccountID  uuid.UUID `json:"account_id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	RewardSlug string    `json:"reward_slug"`
	Amount     int64     `json:"amount"`
	// IdempotencyToken is stable per work unit across retries, so a retried
	// call after a lost response cannot issue a second reward supplier-side.
	IdempotencyToken uuid.UUID `json:"-"`
}

type Result struct {
	Status    Status
	RewardRef string
	Reason    string
}

// Issuer is the capability the executors depend on.
type Issuer interface {
	Issue(ctx context.Context, req Request) Result
}

// Client talks to the reward supplier's internal issuance endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type issueResponse struct {
	RewardRef string `json:"reward_ref"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (c *Client) Issue(ctx context.Context, req Request) Result {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{Status: StatusPermanent, Reason: fmt.Sprintf("encode request: %v", err)}
	}

	url := fmt.Sprintf("%s/rewards/issue", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return Result{Status: StatusPermanent, Reason: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Token", req.IdempotencyToken.String())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Timeouts and transport errors: the supplier may or may not have
		// issued; the idempotency token makes the retry safe.
		c.log.Warn("supplier request failed", zap.Error(err))
		return Result{Status: StatusRetryable, Reason: fmt.Sprintf("supplier unavailable: %v", err)}
	}
	defer resp.Body.Close()

	return c.classify(resp)
}

func (c *Client) classify(resp *http.Response) Result {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var parsed issueResponse
	if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode < 300 {
		// A 2xx we cannot parse is treated like a lost response.
		return Result{Status: StatusRetryable, Reason: fmt.Sprintf("unreadable supplier response: %v", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if parsed.RewardRef == "" {
			return Result{Status: StatusRetryable, Reason: "supplier success without reward reference"}
		}
		return Result{Status: StatusSuccess, RewardRef: parsed.RewardRef}

	case resp.StatusCode == http.StatusConflict:
		// Duplicate-already-issued signal. When the supplier echoes the
		// original reference back, this attempt resolves as the original
		// issuance rather than a failure.
		if parsed.RewardRef != "" {
			return Result{Status: StatusSuccess, RewardRef: parsed.RewardRef}
		}
		return Result{Status: StatusPermanent, Reason: reason(parsed, resp.StatusCode, raw)}

	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooEarly,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return Result{Status: StatusRetryable, Reason: reason(parsed, resp.StatusCode, raw)}

	default:
		// Remaining 4xx: validation errors, no reward available, unknown
		// account. Retrying cannot help.
		return Result{Status: StatusPermanent, Reason: reason(parsed, resp.StatusCode, raw)}
	}
}

func reason(parsed issueResponse, status int, raw []byte) string {
	if parsed.Message != "" {
		return fmt.Sprintf("supplier returned %d: %s", status, parsed.Message)
	}
	if parsed.Code != "" {
		return fmt.Sprintf("supplier returned %d: %s", status, parsed.Code)
	}
	return fmt.Sprintf("supplier returned %d: %s", status, strings.TrimSpace(string(raw)))
}
