package app

import (
	"context"
	"fmt"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"github.com/shopspring/decimal"
)

type OrderRepository interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	// ListLineage returns the line and every line split from it.
	ListLineage(ctx context.Context, orderID, lineID string) ([]domain.OrderLine, error)
}

type OrderService struct {
	repo OrderRepository
}

func NewOrderService(repo OrderRepository) *OrderService {
	return &OrderService{repo: repo}
}

// OrderView is an order with its money figures worked out.
type OrderView struct {
	Order            domain.Order
	Total            decimal.Decimal
	PaidToDate       decimal.Decimal
	RemainingBalance decimal.Decimal
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (OrderView, error) {
	if orderID == "" {
		return OrderView{}, domain.ErrInvalidID
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}
	domain.SortLines(order.Lines)
	return OrderView{
		Order:            order,
		Total:            order.Total(),
		PaidToDate:       order.PaidToDate(),
		RemainingBalance: order.RemainingBalance(),
	}, nil
}

// Lineage is a line together with the lines split off it.
type Lineage struct {
	Line        domain.OrderLine
	Descendants []domain.OrderLine
	// OriginalQuantity and OriginalTotal describe the line before any split.
	OriginalQuantity int
	OriginalTotal    decimal.Decimal
}

func (s *OrderService) LineLineage(ctx context.Context, orderID, lineID string) (Lineage, error) {
	if orderID == "" || lineID == "" {
		return Lineage{}, domain.ErrInvalidID
	}
	lines, err := s.repo.ListLineage(ctx, orderID, lineID)
	if err != nil {
		return Lineage{}, err
	}

	var out Lineage
	found := false
	for _, l := range lines {
		if l.ID == lineID {
			out.Line = l
			found = true
			continue
		}
		if l.OriginLineID == lineID {
			out.Descendants = append(out.Descendants, l)
		}
	}
	if !found {
		return Lineage{}, fmt.Errorf("%w: %s", domain.ErrLineNotFound, lineID)
	}
	domain.SortLines(out.Descendants)

	out.OriginalQuantity = out.Line.Quantity
	out.OriginalTotal = out.Line.Total()
	for _, d := range out.Descendants {
		out.OriginalQuantity += d.Quantity
		out.OriginalTotal = out.OriginalTotal.Add(d.Total())
	}
	return out, nil
}
