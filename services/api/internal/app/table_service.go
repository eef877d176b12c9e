package app

import (
	"context"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
)

type TableRepository interface {
	ListTables(ctx context.Context) ([]domain.Table, error)
}

// TableService gives cashiers the floor view: which tables are free.
type TableService struct {
	repo TableRepository
}

func NewTableService(repo TableRepository) *TableService {
	return &TableService{repo: repo}
}

func (s *TableService) ListTables(ctx context.Context) ([]domain.Table, error) {
	tables, err := s.repo.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	if tables == nil {
		tables = []domain.Table{}
	}
	return tables, nil
}
