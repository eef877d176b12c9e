package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/app"
	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderReader is the minimal interface needed by the order read endpoints.
type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (app.OrderView, error)
	LineLineage(ctx context.Context, orderID, lineID string) (app.Lineage, error)
}

type orderRoute int

const (
	routeOrder orderRoute = iota
	routePayments
	routeLineage
)

type orderPath struct {
	orderID string
	lineID  string
	route   orderRoute
}

// parseOrderPath recognises /orders/{id}, /orders/{id}/payments and
// /orders/{id}/lines/{lineId}/lineage.
func parseOrderPath(path string) (orderPath, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] != "orders" || parts[1] == "" {
		return orderPath{}, false
	}
	p := orderPath{orderID: parts[1]}
	switch {
	case len(parts) == 2:
		p.route = routeOrder
	case len(parts) == 3 && parts[2] == "payments":
		p.route = routePayments
	case len(parts) == 5 && parts[2] == "lines" && parts[3] != "" && parts[4] == "lineage":
		p.route = routeLineage
		p.lineID = parts[3]
	default:
		return orderPath{}, false
	}
	return p, true
}

// HandleOrders routes every /orders/ request to its handler.
func HandleOrders(orders OrderReader, allocator PaymentAllocator, logger *zap.Logger) http.HandlerFunc {
	getOrder := HandleGetOrder(orders, logger)
	lineage := HandleLineLineage(orders, logger)
	allocate := HandleAllocatePayments(allocator, logger)

	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := parseOrderPath(r.URL.Path)
		if !ok {
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
			return
		}
		switch p.route {
		case routePayments:
			allocate(w, r)
		case routeLineage:
			lineage(w, r)
		default:
			getOrder(w, r)
		}
	}
}

// HandleGetOrder returns an HTTP handler for reading one order.
func HandleGetOrder(svc OrderReader, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		p, ok := parseOrderPath(r.URL.Path)
		if !ok || p.route != routeOrder {
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
			return
		}

		view, err := svc.GetOrder(r.Context(), p.orderID)
		if err != nil {
			writeDomainError(w, err, logger)
			return
		}

		order := view.Order
		resp := orderResponse{
			ID:               order.ID,
			Number:           order.Number,
			TableID:          order.TableID,
			TableLabel:       order.TableLabel,
			PaymentStatus:    string(order.PaymentStatus),
			LifecycleStatus:  string(order.LifecycleStatus),
			Total:            formatMoney(view.Total),
			PaidToDate:       formatMoney(view.PaidToDate),
			RemainingBalance: formatMoney(view.RemainingBalance),
			Lines:            make([]lineResponse, 0, len(order.Lines)),
			Payments:         make([]paymentResponse, 0, len(order.Payments)),
			CreatedAt:        order.CreatedAt,
			ClosedAt:         order.ClosedAt,
		}
		for _, l := range order.Lines {
			resp.Lines = append(resp.Lines, newLineResponse(l))
		}
		for _, pay := range order.Payments {
			resp.Payments = append(resp.Payments, newPaymentResponse(pay))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleLineLineage returns an HTTP handler listing a line and its splits.
func HandleLineLineage(svc OrderReader, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		p, ok := parseOrderPath(r.URL.Path)
		if !ok || p.route != routeLineage {
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
			return
		}

		lineage, err := svc.LineLineage(r.Context(), p.orderID, p.lineID)
		if err != nil {
			writeDomainError(w, err, logger)
			return
		}

		resp := lineageResponse{
			Line:             newLineResponse(lineage.Line),
			Descendants:      make([]lineResponse, 0, len(lineage.Descendants)),
			OriginalQuantity: lineage.OriginalQuantity,
			OriginalTotal:    formatMoney(lineage.OriginalTotal),
		}
		for _, d := range lineage.Descendants {
			resp.Descendants = append(resp.Descendants, newLineResponse(d))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type orderResponse struct {
	ID               string            `json:"id"`
	Number           int64             `json:"number"`
	TableID          string            `json:"table_id,omitempty"`
	TableLabel       string            `json:"table_label,omitempty"`
	PaymentStatus    string            `json:"payment_status"`
	LifecycleStatus  string            `json:"lifecycle_status"`
	Total            string            `json:"total"`
	PaidToDate       string            `json:"paid_to_date"`
	RemainingBalance string            `json:"remaining_balance"`
	Lines            []lineResponse    `json:"lines"`
	Payments         []paymentResponse `json:"payments"`
	CreatedAt        time.Time         `json:"created_at"`
	ClosedAt         *time.Time        `json:"closed_at,omitempty"`
}

type lineResponse struct {
	ID           string `json:"id"`
	Position     int64  `json:"position"`
	ProductID    string `json:"product_id,omitempty"`
	ProductName  string `json:"product_name"`
	UnitPrice    string `json:"unit_price"`
	Quantity     int    `json:"quantity"`
	Total        string `json:"total"`
	Note         string `json:"note,omitempty"`
	Station      string `json:"station,omitempty"`
	Paid         bool   `json:"paid"`
	PaidBy       string `json:"paid_by,omitempty"`
	OriginLineID string `json:"origin_line_id,omitempty"`
	IsSplit      bool   `json:"is_split"`
}

type lineageResponse struct {
	Line             lineResponse   `json:"line"`
	Descendants      []lineResponse `json:"descendants"`
	OriginalQuantity int            `json:"original_quantity"`
	OriginalTotal    string         `json:"original_total"`
}

func newLineResponse(l domain.OrderLine) lineResponse {
	return lineResponse{
		ID:           l.ID,
		Position:     l.Position,
		ProductID:    l.ProductID,
		ProductName:  l.ProductName,
		UnitPrice:    formatMoney(l.UnitPrice),
		Quantity:     l.Quantity,
		Total:        formatMoney(l.Total()),
		Note:         l.Note,
		Station:      l.Station,
		Paid:         l.Paid,
		PaidBy:       l.PaidBy,
		OriginLineID: l.OriginLineID,
		IsSplit:      l.IsSplit,
	}
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
