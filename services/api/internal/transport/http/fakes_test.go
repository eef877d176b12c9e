package http

import (
	"context"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/app"
	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
)

type fakeAllocator struct {
	got   app.AllocateInput
	calls int
	res   app.AllocationResult
	err   error
}

func (f *fakeAllocator) Allocate(_ context.Context, in app.AllocateInput) (app.AllocationResult, error) {
	f.calls++
	f.got = in
	if f.err != nil {
		return app.AllocationResult{}, f.err
	}
	return f.res, nil
}

type fakeOrders struct {
	view       app.OrderView
	lineage    app.Lineage
	err        error
	gotOrderID string
	gotLineID  string
}

func (f *fakeOrders) GetOrder(_ context.Context, orderID string) (app.OrderView, error) {
	f.gotOrderID = orderID
	return f.view, f.err
}

func (f *fakeOrders) LineLineage(_ context.Context, orderID, lineID string) (app.Lineage, error) {
	f.gotOrderID = orderID
	f.gotLineID = lineID
	return f.lineage, f.err
}

type fakeCredits struct {
	credit  domain.CustomerCredit
	err     error
	gotName string
}

func (f *fakeCredits) Balance(_ context.Context, name string) (domain.CustomerCredit, error) {
	f.gotName = name
	return f.credit, f.err
}

type fakeTables struct {
	tables []domain.Table
	err    error
}

func (f *fakeTables) ListTables(context.Context) ([]domain.Table, error) {
	return f.tables, f.err
}

type fakeStore struct{ healthy bool }

func (f fakeStore) Healthy() bool { return f.healthy }
