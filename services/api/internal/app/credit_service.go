package app

import (
	"context"
	"strings"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
)

type CreditRepository interface {
	GetCreditByKey(ctx context.Context, customerKey string) (domain.CustomerCredit, error)
}

type CreditService struct {
	repo CreditRepository
}

func NewCreditService(repo CreditRepository) *CreditService {
	return &CreditService{repo: repo}
}

// Balance returns the credit account of the named customer with its entries.
func (s *CreditService) Balance(ctx context.Context, customerName string) (domain.CustomerCredit, error) {
	if strings.TrimSpace(customerName) == "" {
		return domain.CustomerCredit{}, domain.ErrCreditNotFound
	}
	return s.repo.GetCreditByKey(ctx, domain.CustomerKey(customerName))
}
