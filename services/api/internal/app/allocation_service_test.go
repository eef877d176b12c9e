package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/clock"
	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var testNow = time.Date(2025, 3, 1, 21, 30, 0, 0, time.UTC)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}

func orderLine(id string, pos int64, name, price string, qty int) domain.OrderLine {
	return domain.OrderLine{
		ID:          id,
		OrderID:     "order-1",
		Position:    pos,
		ProductID:   "prod-" + id,
		ProductName: name,
		UnitPrice:   decimal.RequireFromString(price),
		Quantity:    qty,
		Station:     "bar",
		CreatedAt:   testNow.Add(-time.Hour),
	}
}

func openOrder(lines ...domain.OrderLine) domain.Order {
	return domain.Order{
		ID:              "order-1",
		Number:          42,
		TenantID:        "tenant-1",
		TableID:         "table-7",
		TableLabel:      "7",
		PaymentStatus:   domain.PaymentStatusUnpaid,
		LifecycleStatus: domain.LifecycleOpen,
		Lines:           lines,
		CreatedAt:       testNow.Add(-time.Hour),
	}
}

// pizzaAndSpritz is 8.00 of pizza plus five spritz at 2.00, 18.00 in total.
func pizzaAndSpritz() domain.Order {
	return openOrder(
		orderLine("L1", 1, "Pizza", "8.00", 1),
		orderLine("L2", 2, "Spritz", "2.00", 5),
	)
}

type harness struct {
	ledger    *fakeLedger
	tables    *fakeTables
	publisher *fakePublisher
	svc       *AllocationService
}

func newHarness(order domain.Order, opts ...AllocationOption) *harness {
	return newHarnessAt(order, clock.NewFixed(testNow), opts...)
}

func newHarnessAt(order domain.Order, clk clock.Clock, opts ...AllocationOption) *harness {
	h := &harness{
		ledger:    newFakeLedger(order),
		tables:    &fakeTables{},
		publisher: &fakePublisher{},
	}
	ids := &seqIDs{}
	opts = append([]AllocationOption{WithIDGenerator(ids.next)}, opts...)
	h.svc = NewAllocationService(h.ledger, h.tables, h.publisher, clk, opts...)
	return h
}

func (h *harness) allocate(t *testing.T, payments ...domain.PartialPayment) (AllocationResult, error) {
	t.Helper()
	return h.svc.Allocate(context.Background(), AllocateInput{
		OrderID:    "order-1",
		OperatorID: "op-1",
		Payments:   payments,
	})
}

func pay(amount string, method domain.PaymentMethod, payer string, lines ...domain.LineSelection) domain.PartialPayment {
	return domain.PartialPayment{
		Amount:    decimal.RequireFromString(amount),
		Method:    method,
		PayerName: payer,
		Lines:     lines,
	}
}

func sel(lineID string, qty int) domain.LineSelection {
	return domain.LineSelection{LineID: lineID, Quantity: qty}
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2))
}

func assertConserved(t *testing.T, order domain.Order, want string) {
	t.Helper()
	paid, unpaid := decimal.Zero, decimal.Zero
	for _, l := range order.Lines {
		if l.Paid {
			paid = paid.Add(l.Total())
		} else {
			unpaid = unpaid.Add(l.Total())
		}
	}
	assertAmount(t, want, paid.Add(unpaid))
}

func mustLine(t *testing.T, order domain.Order, id string) domain.OrderLine {
	t.Helper()
	l, ok := order.Line(id)
	require.True(t, ok, "line %s missing", id)
	return l
}

func TestAllocationService_ExplicitFullLine(t *testing.T) {
	t.Parallel()

	h := newHarness(pizzaAndSpritz())
	res, err := h.allocate(t, pay("8.00", domain.PaymentMethodCash, "Anna", sel("L1", 0)))
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusUnpaid, res.PreviousStatus)
	assert.Equal(t, domain.PaymentStatusPartiallyPaid, res.PaymentStatus)
	assertAmount(t, "10.00", res.RemainingBalance)
	require.Len(t, res.Payments, 1)
	assert.Equal(t, map[string]int{"L1": 1}, res.Payments[0].LineAllocation)
	assert.False(t, res.Payments[0].UnallocatedAmount.Valid)
	assert.Empty(t, res.Credits)

	stored := h.ledger.order("order-1")
	l1 := mustLine(t, stored, "L1")
	assert.True(t, l1.Paid)
	assert.Equal(t, "Anna", l1.PaidBy)
	require.Len(t, stored.Payments, 1)
	assert.Equal(t, "op-1", stored.Payments[0].OperatorID)
	assert.Equal(t, map[string]int{"L1": 1}, stored.Payments[0].LineAllocation)
	assert.Equal(t, domain.PaymentStatusPartiallyPaid, stored.PaymentStatus)
	assert.Equal(t, domain.LifecycleOpen, stored.LifecycleStatus)
	assertConserved(t, stored, "18.00")

	assert.Equal(t, []string{TopicPaymentUpdate}, h.publisher.topics())
	assert.Equal(t, PublishOptions{TenantID: "tenant-1", Broadcast: true}, h.publisher.events[0].opts)
	event, ok := h.publisher.events[0].payload.(PaymentUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, "order-1", event.OrderID)
	assertAmount(t, "10.00", event.RemainingBalance)
	require.Len(t, event.Payments, 1)
	assert.Equal(t, "Anna", event.Payments[0].PayerName)
	assert.Equal(t, testNow, event.Timestamp)
	assert.Empty(t, h.tables.freed)
}

func TestAllocationService_SplitAcrossBatches(t *testing.T) {
	t.Parallel()

	h := newHarness(pizzaAndSpritz())

	res, err := h.allocate(t, pay("4.00", domain.PaymentMethodCard, "Luca", sel("L2", 2)))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"L2": 2}, res.Coverage)
	require.Len(t, res.Payments, 1)
	assert.Equal(t, map[string]int{"id-2": 2}, res.Payments[0].LineAllocation)

	stored := h.ledger.order("order-1")
	require.Len(t, stored.Lines, 3)
	rem := mustLine(t, stored, "L2")
	assert.Equal(t, 3, rem.Quantity)
	assert.False(t, rem.Paid)
	assertAmount(t, "6.00", rem.Total())

	split := mustLine(t, stored, "id-2")
	assert.Equal(t, 2, split.Quantity)
	assert.True(t, split.Paid)
	assert.True(t, split.IsSplit)
	assert.Equal(t, "L2", split.OriginLineID)
	assert.Equal(t, "Luca", split.PaidBy)
	assert.Equal(t, int64(3), split.Position)
	assertAmount(t, "4.00", split.Total())
	assertConserved(t, stored, "18.00")

	res, err = h.allocate(t, pay("6.00", domain.PaymentMethodCash, "Sara", sel("L2", 0)))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"L2": 3}, res.Coverage)
	assert.Equal(t, map[string]int{"L2": 3}, res.Payments[0].LineAllocation)
	assert.Equal(t, domain.PaymentStatusPartiallyPaid, res.PaymentStatus)
	assertAmount(t, "8.00", res.RemainingBalance)

	stored = h.ledger.order("order-1")
	require.Len(t, stored.Lines, 3)
	rem = mustLine(t, stored, "L2")
	assert.True(t, rem.Paid)
	assert.Equal(t, "Sara", rem.PaidBy)
	assertConserved(t, stored, "18.00")
}

func TestAllocationService_OverpaymentTolerance(t *testing.T) {
	t.Parallel()

	tagliata := func() domain.Order {
		return openOrder(orderLine("L1", 1, "Tagliata", "20.00", 1))
	}

	t.Run("accepts a batch at the ceiling", func(t *testing.T) {
		h := newHarness(tagliata())
		res, err := h.allocate(t, pay("22.00", domain.PaymentMethodCard, "Marco"))
		require.NoError(t, err)

		assert.Equal(t, domain.PaymentStatusFullyPaid, res.PaymentStatus)
		assertAmount(t, "0.00", res.RemainingBalance)
		require.True(t, res.Payments[0].UnallocatedAmount.Valid)
		assertAmount(t, "2.00", res.Payments[0].UnallocatedAmount.Decimal)

		credit, ok := h.ledger.credit("Marco")
		require.True(t, ok)
		assertAmount(t, "2.00", credit.Balance)
	})

	t.Run("rejects a batch above the ceiling", func(t *testing.T) {
		h := newHarness(tagliata())
		_, err := h.allocate(t, pay("22.20", domain.PaymentMethodCard, "Marco"))
		require.ErrorIs(t, err, domain.ErrOverpaymentRejected)
		assert.False(t, domain.IsRetryable(err))
		assert.Contains(t, err.Error(), "22.20")

		stored := h.ledger.order("order-1")
		assert.Empty(t, stored.Payments)
		assert.False(t, mustLine(t, stored, "L1").Paid)
		assert.Zero(t, h.ledger.commits)
		assert.Empty(t, h.publisher.topics())
	})

	t.Run("sums every payment of the batch", func(t *testing.T) {
		h := newHarness(tagliata())
		_, err := h.allocate(t,
			pay("12.00", domain.PaymentMethodCash, "Marco"),
			pay("10.50", domain.PaymentMethodCash, "Elena"),
		)
		require.ErrorIs(t, err, domain.ErrOverpaymentRejected)
	})
}

func TestAllocationService_CreditOnRemainder(t *testing.T) {
	t.Parallel()

	// The second line costs more than what is left after the first, so the
	// walk stops with a remainder.
	carbonaraAndWine := func() domain.Order {
		return openOrder(
			orderLine("L1", 1, "Carbonara", "12.50", 1),
			orderLine("L2", 2, "Vino rosso", "5.00", 1),
		)
	}

	t.Run("issues credit to the named payer", func(t *testing.T) {
		h := newHarness(carbonaraAndWine())
		res, err := h.allocate(t, pay("15.00", domain.PaymentMethodCash, "Giulia Rossi"))
		require.NoError(t, err)

		stored := h.ledger.order("order-1")
		assert.True(t, mustLine(t, stored, "L1").Paid)
		assert.False(t, mustLine(t, stored, "L2").Paid)

		require.Len(t, res.Credits, 1)
		entry := res.Credits[0]
		assert.Equal(t, domain.CreditEntryAcconto, entry.Kind)
		assertAmount(t, "2.50", entry.Amount)
		assert.Equal(t, res.Payments[0].ID, entry.PaymentID)
		assert.Equal(t, "order-1", entry.OrderID)

		credit, ok := h.ledger.credit("  giulia   ROSSI ")
		require.True(t, ok)
		assert.Equal(t, "Giulia Rossi", credit.CustomerName)
		assertAmount(t, "2.50", credit.Balance)
		require.Len(t, credit.Entries, 1)
	})

	t.Run("adds to an existing account", func(t *testing.T) {
		h := newHarness(carbonaraAndWine())
		_, err := h.allocate(t, pay("15.00", domain.PaymentMethodCash, "Giulia Rossi"))
		require.NoError(t, err)
		// 5.00 for the wine, 0.50 left over.
		_, err = h.allocate(t, pay("5.50", domain.PaymentMethodCash, "giulia rossi"))
		require.NoError(t, err)

		credit, ok := h.ledger.credit("Giulia Rossi")
		require.True(t, ok)
		assertAmount(t, "3.00", credit.Balance)
		assert.Len(t, credit.Entries, 2)
	})

	t.Run("keeps the remainder on the payment when no payer is named", func(t *testing.T) {
		h := newHarness(carbonaraAndWine())
		res, err := h.allocate(t, pay("15.00", domain.PaymentMethodCash, "  "))
		require.NoError(t, err)

		assert.Empty(t, res.Credits)
		require.True(t, res.Payments[0].UnallocatedAmount.Valid)
		assertAmount(t, "2.50", res.Payments[0].UnallocatedAmount.Decimal)
	})

	t.Run("ignores a remainder at the threshold", func(t *testing.T) {
		h := newHarness(carbonaraAndWine())
		res, err := h.allocate(t, pay("12.51", domain.PaymentMethodCash, "Giulia Rossi"))
		require.NoError(t, err)

		assert.Empty(t, res.Credits)
		_, ok := h.ledger.credit("Giulia Rossi")
		assert.False(t, ok)
	})

	t.Run("single line cannot absorb a remainder above the ceiling", func(t *testing.T) {
		h := newHarness(openOrder(orderLine("L1", 1, "Carbonara", "12.50", 1)))
		_, err := h.allocate(t, pay("15.00", domain.PaymentMethodCash, "Giulia Rossi"))
		require.ErrorIs(t, err, domain.ErrOverpaymentRejected)
	})
}

func TestAllocationService_AutoAllocationWalksCreationOrder(t *testing.T) {
	t.Parallel()

	// Listed out of order on purpose; Position is creation order.
	h := newHarness(openOrder(
		orderLine("L3", 3, "Tiramisu", "6.00", 1),
		orderLine("L1", 1, "Pizza", "8.00", 1),
		orderLine("L2", 2, "Spritz", "2.00", 5),
	))

	res, err := h.allocate(t, pay("13.00", domain.PaymentMethodMixed, "Pietro"))
	require.NoError(t, err)

	require.Len(t, res.Payments, 1)
	assert.Equal(t, map[string]int{"L1": 1, "id-2": 2}, res.Payments[0].LineAllocation)
	assert.Equal(t, map[string]int{"L1": 1, "L2": 2}, res.Coverage)
	assertAmount(t, "1.00", res.Payments[0].UnallocatedAmount.Decimal)
	require.Len(t, res.Credits, 1)
	assertAmount(t, "1.00", res.Credits[0].Amount)

	stored := h.ledger.order("order-1")
	assert.True(t, mustLine(t, stored, "L1").Paid)
	assert.Equal(t, 3, mustLine(t, stored, "L2").Quantity)
	assert.True(t, mustLine(t, stored, "id-2").Paid)
	assert.False(t, mustLine(t, stored, "L3").Paid)
	assertAmount(t, "12.00", stored.RemainingBalance())
	assertConserved(t, stored, "24.00")
}

func TestAllocationService_MismatchedPaymentIsRecorded(t *testing.T) {
	t.Parallel()

	h := newHarness(pizzaAndSpritz())
	res, err := h.allocate(t, pay("7.50", domain.PaymentMethodCash, "", sel("L1", 0)))
	require.NoError(t, err)

	require.Len(t, res.Payments, 1)
	assert.Empty(t, res.Payments[0].LineAllocation)
	require.True(t, res.Payments[0].UnallocatedAmount.Valid)
	assertAmount(t, "7.50", res.Payments[0].UnallocatedAmount.Decimal)
	assertAmount(t, "18.00", res.RemainingBalance)
	assert.Equal(t, domain.PaymentStatusPartiallyPaid, res.PaymentStatus)

	stored := h.ledger.order("order-1")
	assert.False(t, mustLine(t, stored, "L1").Paid)
	assert.Len(t, stored.Payments, 1)
}

func TestAllocationService_SameBatchOverlap(t *testing.T) {
	t.Parallel()

	t.Run("rejects units claimed twice", func(t *testing.T) {
		h := newHarness(pizzaAndSpritz())
		_, err := h.allocate(t,
			pay("6.00", domain.PaymentMethodCash, "Anna", sel("L2", 3)),
			pay("6.00", domain.PaymentMethodCash, "Luca", sel("L2", 3)),
		)
		require.ErrorIs(t, err, domain.ErrInvalidLineSelection)
		assert.Empty(t, h.ledger.order("order-1").Payments)
	})

	t.Run("rejects a line selected twice by one payment", func(t *testing.T) {
		h := newHarness(pizzaAndSpritz())
		_, err := h.allocate(t, pay("4.00", domain.PaymentMethodCash, "Anna", sel("L2", 1), sel("L2", 1)))
		require.ErrorIs(t, err, domain.ErrInvalidLineSelection)
	})

	t.Run("disjoint quantities settle the line", func(t *testing.T) {
		h := newHarness(pizzaAndSpritz())
		res, err := h.allocate(t,
			pay("4.00", domain.PaymentMethodCash, "Anna", sel("L2", 2)),
			pay("6.00", domain.PaymentMethodCard, "Luca", sel("L2", 3)),
		)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"L2": 5}, res.Coverage)
		require.Len(t, res.Payments, 2)
		assert.Equal(t, map[string]int{"id-2": 2}, res.Payments[0].LineAllocation)
		assert.Equal(t, map[string]int{"L2": 3}, res.Payments[1].LineAllocation)

		stored := h.ledger.order("order-1")
		l2 := mustLine(t, stored, "L2")
		assert.True(t, l2.Paid)
		assert.Equal(t, "Luca", l2.PaidBy)
		assert.Equal(t, "Anna", mustLine(t, stored, "id-2").PaidBy)
		assertConserved(t, stored, "18.00")
	})

	t.Run("zero quantity pays what earlier payments left", func(t *testing.T) {
		h := newHarness(pizzaAndSpritz())
		res, err := h.allocate(t,
			pay("4.00", domain.PaymentMethodCash, "Anna", sel("L2", 2)),
			pay("6.00", domain.PaymentMethodCard, "Luca", sel("L2", 0)),
		)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"L2": 5}, res.Coverage)
		require.Len(t, res.Payments, 2)
		assert.Equal(t, map[string]int{"L2": 3}, res.Payments[1].LineAllocation)
		assert.False(t, res.Payments[1].UnallocatedAmount.Valid)

		l2 := mustLine(t, h.ledger.order("order-1"), "L2")
		assert.True(t, l2.Paid)
		assert.Equal(t, 3, l2.Quantity)
	})

	t.Run("zero quantity after the line is fully claimed", func(t *testing.T) {
		h := newHarness(pizzaAndSpritz())
		_, err := h.allocate(t,
			pay("10.00", domain.PaymentMethodCash, "Anna", sel("L2", 5)),
			pay("2.00", domain.PaymentMethodCard, "Luca", sel("L2", 0)),
		)
		require.ErrorIs(t, err, domain.ErrInvalidLineSelection)
		assert.ErrorContains(t, err, "covered more than once")
	})

	t.Run("names the payment that auto-allocated the line", func(t *testing.T) {
		h := newHarness(pizzaAndSpritz())
		_, err := h.allocate(t,
			pay("8.00", domain.PaymentMethodCash, "Anna"),
			pay("8.00", domain.PaymentMethodCard, "Luca", sel("L1", 1)),
		)
		require.ErrorIs(t, err, domain.ErrInvalidLineSelection)
		assert.ErrorContains(t, err, "line L1 (Pizza) was already paid by payment id-1 (Anna) earlier in this batch")
		assert.Empty(t, h.ledger.order("order-1").Payments)
		assert.False(t, mustLine(t, h.ledger.order("order-1"), "L1").Paid)
	})
}

func TestAllocationService_ValidationErrors(t *testing.T) {
	t.Parallel()

	settled := pizzaAndSpritz()
	settled.PaymentStatus = domain.PaymentStatusFullyPaid
	for i := range settled.Lines {
		settled.Lines[i].Paid = true
	}

	tests := []struct {
		name     string
		order    domain.Order
		orderID  string
		payments []domain.PartialPayment
		want     error
	}{
		{
			name:     "empty batch",
			order:    pizzaAndSpritz(),
			payments: nil,
			want:     domain.ErrEmptyBatch,
		},
		{
			name:     "zero amount",
			order:    pizzaAndSpritz(),
			payments: []domain.PartialPayment{pay("0", domain.PaymentMethodCash, "Anna")},
			want:     domain.ErrInvalidAmount,
		},
		{
			name:     "negative amount",
			order:    pizzaAndSpritz(),
			payments: []domain.PartialPayment{pay("-2.00", domain.PaymentMethodCash, "Anna")},
			want:     domain.ErrInvalidAmount,
		},
		{
			name:     "unknown method",
			order:    pizzaAndSpritz(),
			payments: []domain.PartialPayment{pay("2.00", domain.PaymentMethod("CHEQUE"), "Anna")},
			want:     domain.ErrInvalidPaymentMethod,
		},
		{
			name:     "line of another order",
			order:    pizzaAndSpritz(),
			payments: []domain.PartialPayment{pay("2.00", domain.PaymentMethodCash, "Anna", sel("L9", 1))},
			want:     domain.ErrInvalidLineSelection,
		},
		{
			name:     "more units than the line has",
			order:    pizzaAndSpritz(),
			payments: []domain.PartialPayment{pay("12.00", domain.PaymentMethodCash, "Anna", sel("L2", 6))},
			want:     domain.ErrInvalidLineSelection,
		},
		{
			name:     "settled order",
			order:    settled,
			payments: []domain.PartialPayment{pay("2.00", domain.PaymentMethodCash, "Anna")},
			want:     domain.ErrAlreadySettled,
		},
		{
			name:     "missing order",
			order:    pizzaAndSpritz(),
			orderID:  "order-404",
			payments: []domain.PartialPayment{pay("2.00", domain.PaymentMethodCash, "Anna")},
			want:     domain.ErrOrderNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.order)
			orderID := tt.orderID
			if orderID == "" {
				orderID = "order-1"
			}
			_, err := h.svc.Allocate(context.Background(), AllocateInput{
				OrderID:    orderID,
				OperatorID: "op-1",
				Payments:   tt.payments,
			})
			require.ErrorIs(t, err, tt.want)
			assert.False(t, domain.IsRetryable(err))
			assert.Zero(t, h.ledger.commits)
			assert.Empty(t, h.publisher.topics())
		})
	}
}

func TestAllocationService_NoDoublePayment(t *testing.T) {
	t.Parallel()

	h := newHarness(pizzaAndSpritz())
	_, err := h.allocate(t, pay("8.00", domain.PaymentMethodCash, "Anna", sel("L1", 0)))
	require.NoError(t, err)

	_, err = h.allocate(t, pay("8.00", domain.PaymentMethodCash, "Luca", sel("L1", 0)))
	require.ErrorIs(t, err, domain.ErrInvalidLineSelection)
	assert.Contains(t, err.Error(), "Anna")
	assert.Equal(t, 1, h.ledger.commits)
	assert.Len(t, h.ledger.order("order-1").Payments, 1)
}

func TestAllocationService_FullyPaidClosesOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(pizzaAndSpritz())
	res, err := h.allocate(t,
		pay("8.00", domain.PaymentMethodCash, "Anna", sel("L1", 0)),
		pay("10.00", domain.PaymentMethodCard, "Luca", sel("L2", 0)),
	)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFullyPaid, res.PaymentStatus)
	assertAmount(t, "0.00", res.RemainingBalance)

	stored := h.ledger.order("order-1")
	assert.Equal(t, domain.PaymentStatusFullyPaid, stored.PaymentStatus)
	assert.Equal(t, domain.LifecycleClosed, stored.LifecycleStatus)
	require.NotNil(t, stored.ClosedAt)
	assert.Equal(t, testNow, *stored.ClosedAt)

	assert.Equal(t, []string{"table-7"}, h.tables.freed)
	assert.Equal(t, []string{TopicPaymentUpdate, TopicOrderPaid}, h.publisher.topics())
	paid, ok := h.publisher.events[1].payload.(OrderPaidEvent)
	require.True(t, ok)
	assert.Equal(t, int64(42), paid.OrderNumber)
	assert.Equal(t, "7", paid.TableLabel)
	assertAmount(t, "18.00", paid.Total)

	_, err = h.allocate(t, pay("1.00", domain.PaymentMethodCash, "Anna"))
	require.ErrorIs(t, err, domain.ErrAlreadySettled)
	assert.Equal(t, domain.PaymentStatusFullyPaid, h.ledger.order("order-1").PaymentStatus)
}

func TestAllocationService_OrderWithoutTable(t *testing.T) {
	t.Parallel()

	order := openOrder(orderLine("L1", 1, "Caffe", "1.20", 1))
	order.TableID = ""
	order.TableLabel = ""
	h := newHarness(order)

	res, err := h.allocate(t, pay("1.20", domain.PaymentMethodCash, ""))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFullyPaid, res.PaymentStatus)
	assert.Empty(t, h.tables.freed)
}

func TestAllocationService_DefaultTenant(t *testing.T) {
	t.Parallel()

	order := pizzaAndSpritz()
	order.TenantID = ""
	h := newHarness(order, WithDefaultTenant("roxy-centro"))

	_, err := h.allocate(t, pay("8.00", domain.PaymentMethodCash, "", sel("L1", 0)))
	require.NoError(t, err)
	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, "roxy-centro", h.publisher.events[0].opts.TenantID)
}

func TestAllocationService_TimestampsFollowTheClock(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(testNow)
	h := newHarnessAt(pizzaAndSpritz(), clk)

	_, err := h.allocate(t, pay("8.00", domain.PaymentMethodCash, "Anna", sel("L1", 0)))
	require.NoError(t, err)

	clk.Advance(25 * time.Minute)
	_, err = h.allocate(t, pay("10.00", domain.PaymentMethodCard, "Luca"))
	require.NoError(t, err)

	stored := h.ledger.order("order-1")
	require.Len(t, stored.Payments, 2)
	assert.Equal(t, testNow, stored.Payments[0].CreatedAt)
	assert.Equal(t, testNow.Add(25*time.Minute), stored.Payments[1].CreatedAt)
	require.NotNil(t, stored.ClosedAt)
	assert.Equal(t, testNow.Add(25*time.Minute), *stored.ClosedAt)
}

func TestAllocationService_ConcurrentBatchesOnOneOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(pizzaAndSpritz())

	conflicted := make(chan struct{})
	var once sync.Once
	h.ledger.onConflict = func(string) { once.Do(func() { close(conflicted) }) }
	// The winner holds the lock until the other batch has bounced off it.
	h.ledger.afterLock = func(string) {
		select {
		case <-conflicted:
		case <-time.After(5 * time.Second):
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, payer := range []string{"Anna", "Luca"} {
		wg.Add(1)
		go func(i int, payer string) {
			defer wg.Done()
			_, errs[i] = h.svc.Allocate(context.Background(), AllocateInput{
				OrderID:    "order-1",
				OperatorID: "op-" + payer,
				Payments:   []domain.PartialPayment{pay("8.00", domain.PaymentMethodCash, payer, sel("L1", 0))},
			})
		}(i, payer)
	}
	wg.Wait()

	var committed, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			committed++
		case errors.Is(err, domain.ErrConcurrentModification):
			conflicts++
			assert.True(t, domain.IsRetryable(err))
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, conflicts)

	stored := h.ledger.order("order-1")
	assert.Len(t, stored.Payments, 1)
	assert.True(t, mustLine(t, stored, "L1").Paid)
	assert.Equal(t, 1, h.ledger.commits)
}

func TestAllocationService_LockHeldElsewhere(t *testing.T) {
	t.Parallel()

	h := newHarness(pizzaAndSpritz())
	h.ledger.locked["order-1"] = true

	_, err := h.allocate(t, pay("8.00", domain.PaymentMethodCash, "Anna", sel("L1", 0)))
	require.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.Equal(t, domain.KindConcurrentModification, domain.Kind(err))
	assert.True(t, domain.IsRetryable(err))
}

func TestAllocationService_FailureAbortsWholeBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(openOrder(
		orderLine("L1", 1, "Pizza", "8.00", 1),
		orderLine("L2", 2, "Spritz", "2.00", 5),
		orderLine("L3", 3, "Tiramisu", "6.00", 1),
	))
	h.ledger.failStatus = errors.New("disk full")

	_, err := h.allocate(t,
		pay("13.00", domain.PaymentMethodCash, "Pietro"),
		pay("6.00", domain.PaymentMethodCash, "Anna", sel("L3", 0)),
	)
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.Kind(err))

	stored := h.ledger.order("order-1")
	assert.Len(t, stored.Lines, 3)
	assert.Empty(t, stored.Payments)
	for _, l := range stored.Lines {
		assert.False(t, l.Paid, "line %s", l.ID)
	}
	assert.Equal(t, 5, mustLine(t, stored, "L2").Quantity)
	_, ok := h.ledger.credit("Pietro")
	assert.False(t, ok)
	assert.Zero(t, h.ledger.commits)
	assert.Empty(t, h.publisher.topics())
	assert.Empty(t, h.tables.freed)
}

func TestAllocationService_BatchReplay(t *testing.T) {
	t.Parallel()

	h := newHarness(pizzaAndSpritz())
	in := AllocateInput{
		OrderID:    "order-1",
		OperatorID: "op-1",
		BatchID:    "batch-1",
		Payments: []domain.PartialPayment{
			pay("8.00", domain.PaymentMethodCash, "Anna", sel("L1", 0)),
			pay("10.00", domain.PaymentMethodCard, "Luca", sel("L2", 0)),
		},
	}

	first, err := h.svc.Allocate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	// The order is settled now; the same batch id is still answered.
	again, err := h.svc.Allocate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.PaymentStatus, again.PaymentStatus)
	require.Len(t, again.Payments, 2)
	assert.Equal(t, first.Payments[0].ID, again.Payments[0].ID)
	assertAmount(t, "0.00", again.RemainingBalance)

	assert.Len(t, h.ledger.order("order-1").Payments, 2)
	assert.Equal(t, 1, h.ledger.commits)
	assert.Len(t, h.publisher.topics(), 2)

	in.BatchID = "batch-2"
	_, err = h.svc.Allocate(context.Background(), in)
	require.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestAllocationService_PublishFailureDoesNotFailBatch(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	h := newHarness(pizzaAndSpritz(), WithLogger(zap.New(core)))
	h.publisher.err = errors.New("redis down")

	res, err := h.allocate(t, pay("8.00", domain.PaymentMethodCash, "Anna", sel("L1", 0)))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPartiallyPaid, res.PaymentStatus)
	assert.Equal(t, 1, logs.FilterMessage("publish payment update").Len())
}

func TestAllocationService_LogsRejections(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	h := newHarness(pizzaAndSpritz(), WithLogger(zap.New(core)))

	_, err := h.allocate(t, pay("30.00", domain.PaymentMethodCash, "Anna"))
	require.ErrorIs(t, err, domain.ErrOverpaymentRejected)

	entries := logs.FilterMessage("allocation rejected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.KindOverpaymentRejected, entries[0].ContextMap()["kind"])
}
