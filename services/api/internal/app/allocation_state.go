package app

import (
	"fmt"
	"sort"
	"time"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"github.com/shopspring/decimal"
)

// ledgerState is the in-transaction view of an order's lines while a batch is
// applied. Lines are split in place as payments cover part of them, so a
// line's Quantity is always the part nobody has paid yet.
type ledgerState struct {
	lines   []domain.OrderLine
	index   map[string]int
	nextPos int64
	newID   func() string
	now     time.Time

	// attributed counts, per original line id, the quantity covered by the
	// payments of this batch.
	attributed map[string]int
	// paidIn names the payment of this batch that paid each line.
	paidIn map[string]batchPayer

	inserted []domain.OrderLine
	updated  []string
}

func newLedgerState(order domain.Order, newID func() string, now time.Time) *ledgerState {
	st := &ledgerState{
		lines:      make([]domain.OrderLine, len(order.Lines)),
		index:      make(map[string]int, len(order.Lines)),
		newID:      newID,
		now:        now,
		attributed: make(map[string]int),
		paidIn:     make(map[string]batchPayer),
	}
	copy(st.lines, order.Lines)
	domain.SortLines(st.lines)
	for i, l := range st.lines {
		st.index[l.ID] = i
		if l.Position > st.nextPos {
			st.nextPos = l.Position
		}
	}
	return st
}

type batchPayer struct {
	paymentID string
	payer     string
}

type linePick struct {
	idx int
	qty int
}

// applyExplicit covers the selected lines when their cost matches the
// payment amount. A mismatched payment leaves every line untouched and its
// whole amount is returned as unallocated.
func (st *ledgerState) applyExplicit(p *domain.Payment, selections []domain.LineSelection) (decimal.Decimal, error) {
	picks := make([]linePick, 0, len(selections))
	cost := decimal.Zero
	for _, sel := range selections {
		idx, ok := st.index[sel.LineID]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: line %s does not belong to this order", domain.ErrInvalidLineSelection, sel.LineID)
		}
		line := st.lines[idx]
		if line.Paid {
			if by, ok := st.paidIn[line.ID]; ok {
				return decimal.Zero, fmt.Errorf("%w: line %s (%s) was already paid by payment %s (%s) earlier in this batch",
					domain.ErrInvalidLineSelection, line.ID, line.ProductName, by.paymentID, payerOrUnknown(by.payer))
			}
			return decimal.Zero, fmt.Errorf("%w: line %s (%s) is already paid", domain.ErrInvalidLineSelection, line.ID, line.ProductName)
		}
		qty := sel.Quantity
		if qty == 0 {
			qty = line.Quantity
		}
		if qty < 0 || qty > line.Quantity {
			return decimal.Zero, fmt.Errorf("%w: %d units requested on line %s but only %d are unpaid",
				domain.ErrInvalidLineSelection, qty, line.ID, line.Quantity)
		}
		picks = append(picks, linePick{idx: idx, qty: qty})
		cost = cost.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(qty))))
	}

	if !domain.AmountsMatch(cost, p.Amount) {
		return p.Amount, nil
	}

	for _, pk := range picks {
		if err := st.settle(p, pk.idx, pk.qty); err != nil {
			return decimal.Zero, err
		}
	}
	return decimal.Zero, nil
}

// applyAuto walks the unpaid lines in creation order. Whole lines are paid
// while the money lasts; a line the money only partly covers is split for
// the affordable whole units. The walk stops at the first line the money
// cannot buy a single unit of. What is left is returned.
func (st *ledgerState) applyAuto(p *domain.Payment) (decimal.Decimal, error) {
	remaining := p.Amount
	for _, idx := range st.unpaidInOrder() {
		line := st.lines[idx]
		cost := line.Total()
		if remaining.GreaterThanOrEqual(cost) {
			if err := st.settle(p, idx, line.Quantity); err != nil {
				return decimal.Zero, err
			}
			remaining = remaining.Sub(cost)
			continue
		}

		units := remaining.Div(line.UnitPrice).Floor().IntPart()
		if units < 1 {
			break
		}
		if err := st.settle(p, idx, int(units)); err != nil {
			return decimal.Zero, err
		}
		remaining = remaining.Sub(line.UnitPrice.Mul(decimal.NewFromInt(units)))
	}
	return remaining, nil
}

// settle marks qty units of the line at idx as paid by p, splitting the line
// when qty is less than what is left of it.
func (st *ledgerState) settle(p *domain.Payment, idx, qty int) error {
	line := st.lines[idx]
	root := line.ID
	if line.OriginLineID != "" {
		root = line.OriginLineID
	}

	if qty == line.Quantity {
		line.Paid = true
		line.PaidBy = p.PayerName
		st.lines[idx] = line
		st.markUpdated(line.ID)
		p.LineAllocation[line.ID] += qty
		st.attributed[root] += qty
		st.paidIn[line.ID] = batchPayer{paymentID: p.ID, payer: p.PayerName}
		return nil
	}

	paid, rem, err := domain.SplitLine(line, qty, st.newID(), st.now)
	if err != nil {
		return err
	}
	st.nextPos++
	paid.Position = st.nextPos
	paid.PaidBy = p.PayerName

	st.lines[idx] = rem
	st.markUpdated(rem.ID)
	st.lines = append(st.lines, paid)
	st.index[paid.ID] = len(st.lines) - 1
	st.inserted = append(st.inserted, paid)

	p.LineAllocation[paid.ID] = qty
	st.attributed[root] += qty
	st.paidIn[paid.ID] = batchPayer{paymentID: p.ID, payer: p.PayerName}
	return nil
}

func (st *ledgerState) markUpdated(id string) {
	for _, u := range st.updated {
		if u == id {
			return
		}
	}
	st.updated = append(st.updated, id)
}

func (st *ledgerState) unpaidInOrder() []int {
	out := make([]int, 0, len(st.lines))
	for i, l := range st.lines {
		if !l.Paid {
			out = append(out, i)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return st.lines[out[a]].Position < st.lines[out[b]].Position
	})
	return out
}

// drain returns the lines changed since the previous call.
func (st *ledgerState) drain() (inserted []domain.OrderLine, updated []domain.OrderLine) {
	inserted = st.inserted
	updated = make([]domain.OrderLine, 0, len(st.updated))
	for _, id := range st.updated {
		updated = append(updated, st.lines[st.index[id]])
	}
	st.inserted = nil
	st.updated = nil
	return inserted, updated
}

func (st *ledgerState) total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range st.lines {
		total = total.Add(l.Total())
	}
	return total
}

func (st *ledgerState) snapshot() []domain.OrderLine {
	out := make([]domain.OrderLine, len(st.lines))
	copy(out, st.lines)
	domain.SortLines(out)
	return out
}
