// Package cashierclient is the client cashier terminals use to submit
// payment batches. A logical submission keeps one batch id across retries,
// so a retry after a lost response is answered from the server's record
// instead of charging twice.
package cashierclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/backoff"
	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 4
	defaultTimeout     = 10 * time.Second
	maxErrorBodyBytes  = 64 << 10
)

type Config struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// OperatorID is sent as X-Operator-ID when the server runs without tokens.
	OperatorID  string
	HTTPClient  *http.Client
	MaxAttempts int
	Backoff     backoff.Policy
	Logger      *zap.Logger
	// NewBatchID overrides the uuid batch id generator.
	NewBatchID func() string
}

type Client struct {
	base        *url.URL
	token       string
	operatorID  string
	http        *http.Client
	maxAttempts int
	policy      backoff.Policy
	logger      *zap.Logger
	newBatchID  func() string
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("cashierclient: invalid base url %q", cfg.BaseURL)
	}
	c := &Client{
		base:        base,
		token:       cfg.Token,
		operatorID:  cfg.OperatorID,
		http:        cfg.HTTPClient,
		maxAttempts: cfg.MaxAttempts,
		policy:      cfg.Backoff,
		logger:      cfg.Logger,
		newBatchID:  cfg.NewBatchID,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultTimeout}
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.policy.Base <= 0 {
		c.policy = backoff.DefaultPolicy()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.newBatchID == nil {
		c.newBatchID = uuid.NewString
	}
	return c, nil
}

// APIError is a response the server rejected the batch with.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
	// RetryAfter is the server's hint, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cashierclient: %d %s: %s", e.Status, e.Code, e.Message)
}

// Result is the server's answer to an accepted batch.
type Result struct {
	BatchID          string
	OrderID          string
	PaymentStatus    domain.PaymentStatus
	RemainingBalance decimal.Decimal
	Payments         []Receipt
	Replayed         bool
	Attempts         int
}

// Receipt is one recorded payment.
type Receipt struct {
	ID                string
	Amount            decimal.Decimal
	PayerName         string
	LineAllocation    map[string]int
	UnallocatedAmount decimal.NullDecimal
}

// SubmitPayments posts the batch and retries it while the server reports a
// retryable condition or the request never reached it. Every attempt carries
// the same batch id.
func (c *Client) SubmitPayments(ctx context.Context, orderID string, payments []domain.PartialPayment) (Result, error) {
	if strings.TrimSpace(orderID) == "" {
		return Result{}, errors.New("cashierclient: order id is required")
	}
	body, err := json.Marshal(newBatchRequest(payments))
	if err != nil {
		return Result{}, fmt.Errorf("cashierclient: encode batch: %w", err)
	}
	endpoint := c.base.JoinPath("orders", orderID, "payments").String()
	batchID := c.newBatchID()

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		res, err := c.post(ctx, endpoint, batchID, body)
		if err == nil {
			res.BatchID = batchID
			res.Attempts = attempt + 1
			return res, nil
		}
		lastErr = err

		retryable, hint := classify(ctx, err)
		if !retryable || attempt == c.maxAttempts-1 {
			break
		}

		delay := c.policy.Delay(attempt)
		if hint > delay {
			delay = hint
			if c.policy.Max > 0 && delay > c.policy.Max {
				delay = c.policy.Max
			}
		}
		c.logger.Warn("retrying payment batch",
			zap.String("order_id", orderID),
			zap.String("batch_id", batchID),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := backoff.Sleep(ctx, delay); err != nil {
			return Result{}, fmt.Errorf("cashierclient: %w (last error: %v)", err, lastErr)
		}
	}
	return Result{}, lastErr
}

func (c *Client) post(ctx context.Context, endpoint, batchID string, body []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("cashierclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", batchID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.operatorID != "" {
		req.Header.Set("X-Operator-ID", c.operatorID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("cashierclient: post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, decodeAPIError(resp)
	}

	var out batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("cashierclient: decode response: %w", err)
	}
	return out.result()
}

// classify reports whether err may be retried and the server's delay hint.
func classify(ctx context.Context, err error) (bool, time.Duration) {
	if ctx.Err() != nil {
		return false, 0
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable, apiErr.RetryAfter
	}
	// Anything else failed before a response arrived.
	return true, 0
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var payload struct {
		Error     string `json:"error"`
		Code      string `json:"code"`
		Retryable bool   `json:"retryable"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err := json.Unmarshal(raw, &payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Error
		apiErr.Retryable = payload.Retryable
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	switch {
	case apiErr.Code == domain.KindConcurrentModification, apiErr.Code == domain.KindStoreUnavailable:
		apiErr.Retryable = true
	case resp.StatusCode == http.StatusServiceUnavailable, resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusGatewayTimeout:
		apiErr.Retryable = true
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}

type batchRequest struct {
	Payments []paymentRequest `json:"payments"`
}

type paymentRequest struct {
	Amount    string        `json:"amount"`
	Method    string        `json:"method"`
	PayerName string        `json:"payer_name,omitempty"`
	Lines     []lineRequest `json:"lines,omitempty"`
}

type lineRequest struct {
	LineID   string `json:"line_id"`
	Quantity int    `json:"quantity,omitempty"`
}

func newBatchRequest(payments []domain.PartialPayment) batchRequest {
	req := batchRequest{Payments: make([]paymentRequest, 0, len(payments))}
	for _, p := range payments {
		pr := paymentRequest{
			Amount:    p.Amount.StringFixed(2),
			Method:    string(p.Method),
			PayerName: p.PayerName,
		}
		for _, l := range p.Lines {
			pr.Lines = append(pr.Lines, lineRequest{LineID: l.LineID, Quantity: l.Quantity})
		}
		req.Payments = append(req.Payments, pr)
	}
	return req
}

type batchResponse struct {
	OrderID          string `json:"order_id"`
	PaymentStatus    string `json:"payment_status"`
	RemainingBalance string `json:"remaining_balance"`
	Payments         []struct {
		ID                string         `json:"id"`
		Amount            string         `json:"amount"`
		PayerName         string         `json:"payer_name"`
		LineAllocation    map[string]int `json:"line_allocation"`
		UnallocatedAmount *string        `json:"unallocated_amount"`
	} `json:"payments"`
	Replayed bool `json:"replayed"`
}

func (b batchResponse) result() (Result, error) {
	remaining, err := decimal.NewFromString(b.RemainingBalance)
	if err != nil {
		return Result{}, fmt.Errorf("cashierclient: remaining balance %q: %w", b.RemainingBalance, err)
	}
	res := Result{
		OrderID:          b.OrderID,
		PaymentStatus:    domain.PaymentStatus(b.PaymentStatus),
		RemainingBalance: remaining,
		Replayed:         b.Replayed,
	}
	for _, p := range b.Payments {
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			return Result{}, fmt.Errorf("cashierclient: payment amount %q: %w", p.Amount, err)
		}
		r := Receipt{
			ID:             p.ID,
			Amount:         amount,
			PayerName:      p.PayerName,
			LineAllocation: p.LineAllocation,
		}
		if p.UnallocatedAmount != nil {
			u, err := decimal.NewFromString(*p.UnallocatedAmount)
			if err != nil {
				return Result{}, fmt.Errorf("cashierclient: unallocated amount %q: %w", *p.UnallocatedAmount, err)
			}
			r.UnallocatedAmount = decimal.NewNullDecimal(u)
		}
		res.Payments = append(res.Payments, r)
	}
	return res, nil
}
