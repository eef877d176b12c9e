package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/app"
	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"go.uber.org/zap"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxBatchBodyBytes = 1 << 20
)

// PaymentAllocator is the minimal interface needed to record a payment batch.
type PaymentAllocator interface {
	Allocate(ctx context.Context, in app.AllocateInput) (app.AllocationResult, error)
}

// HandleAllocatePayments returns an HTTP handler that applies one batch of
// payments to an order. The Idempotency-Key header, when sent, identifies the
// batch so a resubmission gets the recorded result back.
func HandleAllocatePayments(svc PaymentAllocator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		p, ok := parseOrderPath(r.URL.Path)
		if !ok || p.route != routePayments {
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
			return
		}

		operator := OperatorFromContext(r.Context())
		if operator == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "operator id required")
			return
		}

		var req allocateRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.Payments == nil {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "payments is required")
			return
		}

		payments, err := req.toPartialPayments()
		if err != nil {
			writeDomainError(w, err, logger)
			return
		}

		res, err := svc.Allocate(r.Context(), app.AllocateInput{
			OrderID:    p.orderID,
			OperatorID: operator,
			BatchID:    strings.TrimSpace(r.Header.Get(idempotencyHeader)),
			Payments:   payments,
		})
		if err != nil {
			writeDomainError(w, err, logger)
			return
		}

		resp := allocationResponse{
			OrderID:          res.OrderID,
			PreviousStatus:   string(res.PreviousStatus),
			PaymentStatus:    string(res.PaymentStatus),
			RemainingBalance: formatMoney(res.RemainingBalance),
			Payments:         make([]paymentResponse, 0, len(res.Payments)),
			Credits:          make([]creditEntryResponse, 0, len(res.Credits)),
			Coverage:         res.Coverage,
			Replayed:         res.Replayed,
		}
		for _, pay := range res.Payments {
			resp.Payments = append(resp.Payments, newPaymentResponse(pay))
		}
		for _, c := range res.Credits {
			resp.Credits = append(resp.Credits, newCreditEntryResponse(c))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type allocateRequest struct {
	Payments []paymentRequest `json:"payments"`
}

type paymentRequest struct {
	Amount    string                 `json:"amount"`
	Method    string                 `json:"method"`
	PayerName string                 `json:"payer_name"`
	Lines     []lineSelectionRequest `json:"lines"`
}

type lineSelectionRequest struct {
	LineID   string `json:"line_id"`
	Quantity int    `json:"quantity"`
}

func (r allocateRequest) toPartialPayments() ([]domain.PartialPayment, error) {
	out := make([]domain.PartialPayment, 0, len(r.Payments))
	for i, p := range r.Payments {
		amount, err := domain.ParseAmount(strings.TrimSpace(p.Amount))
		if err != nil {
			return nil, fmt.Errorf("payment %d: %w", i, err)
		}
		pp := domain.PartialPayment{
			Amount:    amount,
			Method:    domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(p.Method))),
			PayerName: strings.TrimSpace(p.PayerName),
		}
		for _, l := range p.Lines {
			pp.Lines = append(pp.Lines, domain.LineSelection{LineID: l.LineID, Quantity: l.Quantity})
		}
		out = append(out, pp)
	}
	return out, nil
}

type allocationResponse struct {
	OrderID          string                `json:"order_id"`
	PreviousStatus   string                `json:"previous_status"`
	PaymentStatus    string                `json:"payment_status"`
	RemainingBalance string                `json:"remaining_balance"`
	Payments         []paymentResponse     `json:"payments"`
	Credits          []creditEntryResponse `json:"credits"`
	Coverage         map[string]int        `json:"coverage,omitempty"`
	Replayed         bool                  `json:"replayed"`
}

type paymentResponse struct {
	ID                string         `json:"id"`
	BatchID           string         `json:"batch_id,omitempty"`
	Amount            string         `json:"amount"`
	Method            string         `json:"method"`
	PayerName         string         `json:"payer_name,omitempty"`
	OperatorID        string         `json:"operator_id"`
	LineAllocation    map[string]int `json:"line_allocation"`
	UnallocatedAmount *string        `json:"unallocated_amount,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

func newPaymentResponse(p domain.Payment) paymentResponse {
	resp := paymentResponse{
		ID:             p.ID,
		BatchID:        p.BatchID,
		Amount:         formatMoney(p.Amount),
		Method:         string(p.Method),
		PayerName:      p.PayerName,
		OperatorID:     p.OperatorID,
		LineAllocation: p.LineAllocation,
		CreatedAt:      p.CreatedAt,
	}
	if resp.LineAllocation == nil {
		resp.LineAllocation = map[string]int{}
	}
	if p.UnallocatedAmount.Valid {
		s := formatMoney(p.UnallocatedAmount.Decimal)
		resp.UnallocatedAmount = &s
	}
	return resp
}
