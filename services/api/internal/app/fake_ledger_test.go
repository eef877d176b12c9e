package app

import (
	"context"
	"errors"
	"sync"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
)

// fakeLedger is an in-memory LedgerRepository. Transactions work on copies
// that are written back only on commit; order locks fail instead of waiting.
type fakeLedger struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	credits map[string]domain.CustomerCredit
	batches map[string]domain.BatchRecord
	locked  map[string]bool
	commits int

	afterLock  func(orderID string)
	onConflict func(orderID string)
	failStatus error
}

type fakeTx struct {
	orders  map[string]*domain.Order
	credits map[string]domain.CustomerCredit
	batches map[string]domain.BatchRecord
	locks   []string
}

type fakeTxKey struct{}

func newFakeLedger(orders ...domain.Order) *fakeLedger {
	f := &fakeLedger{
		orders:  make(map[string]domain.Order),
		credits: make(map[string]domain.CustomerCredit),
		batches: make(map[string]domain.BatchRecord),
		locked:  make(map[string]bool),
	}
	for _, o := range orders {
		f.orders[o.ID] = cloneOrder(o)
	}
	return f
}

func (f *fakeLedger) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx := &fakeTx{
		orders:  make(map[string]*domain.Order),
		credits: make(map[string]domain.CustomerCredit),
		batches: make(map[string]domain.BatchRecord),
	}
	err := fn(context.WithValue(ctx, fakeTxKey{}, tx))

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range tx.locks {
		delete(f.locked, id)
	}
	if err != nil {
		return err
	}
	for id, o := range tx.orders {
		f.orders[id] = cloneOrder(*o)
	}
	for k, c := range tx.credits {
		f.credits[k] = c
	}
	for k, b := range tx.batches {
		f.batches[k] = b
	}
	f.commits++
	return nil
}

func (f *fakeLedger) tx(ctx context.Context) *fakeTx {
	tx, _ := ctx.Value(fakeTxKey{}).(*fakeTx)
	return tx
}

func (f *fakeLedger) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if tx := f.tx(ctx); tx != nil {
		if o, ok := tx.orders[orderID]; ok {
			return cloneOrder(*o), nil
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (f *fakeLedger) LockOrderNoWait(ctx context.Context, orderID string) (domain.Order, error) {
	tx := f.tx(ctx)
	if tx == nil {
		return domain.Order{}, errors.New("lock outside transaction")
	}

	f.mu.Lock()
	o, ok := f.orders[orderID]
	if !ok {
		f.mu.Unlock()
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if f.locked[orderID] {
		f.mu.Unlock()
		if f.onConflict != nil {
			f.onConflict(orderID)
		}
		return domain.Order{}, domain.ErrConcurrentModification
	}
	f.locked[orderID] = true
	c := cloneOrder(o)
	f.mu.Unlock()

	tx.orders[orderID] = &c
	tx.locks = append(tx.locks, orderID)
	if f.afterLock != nil {
		f.afterLock(orderID)
	}
	return cloneOrder(c), nil
}

func (f *fakeLedger) lockedOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	tx := f.tx(ctx)
	if tx == nil {
		return nil, errors.New("write outside transaction")
	}
	o, ok := tx.orders[orderID]
	if !ok {
		return nil, errors.New("write to unlocked order " + orderID)
	}
	return o, nil
}

func (f *fakeLedger) FindBatch(ctx context.Context, orderID, batchID string) (*domain.BatchRecord, error) {
	key := orderID + "/" + batchID
	if tx := f.tx(ctx); tx != nil {
		if b, ok := tx.batches[key]; ok {
			return &b, nil
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.batches[key]; ok {
		return &b, nil
	}
	return nil, nil
}

func (f *fakeLedger) SaveBatch(ctx context.Context, rec domain.BatchRecord) error {
	tx := f.tx(ctx)
	if tx == nil {
		return errors.New("write outside transaction")
	}
	tx.batches[rec.OrderID+"/"+rec.BatchID] = rec
	return nil
}

func (f *fakeLedger) CreatePayment(ctx context.Context, payment domain.Payment) error {
	o, err := f.lockedOrder(ctx, payment.OrderID)
	if err != nil {
		return err
	}
	o.Payments = append(o.Payments, clonePayment(payment))
	return nil
}

func (f *fakeLedger) UpdatePaymentAllocation(ctx context.Context, payment domain.Payment) error {
	o, err := f.lockedOrder(ctx, payment.OrderID)
	if err != nil {
		return err
	}
	for i := range o.Payments {
		if o.Payments[i].ID == payment.ID {
			o.Payments[i] = clonePayment(payment)
			return nil
		}
	}
	return errors.New("payment not found: " + payment.ID)
}

func (f *fakeLedger) InsertLine(ctx context.Context, line domain.OrderLine) error {
	o, err := f.lockedOrder(ctx, line.OrderID)
	if err != nil {
		return err
	}
	o.Lines = append(o.Lines, line)
	return nil
}

func (f *fakeLedger) UpdateLine(ctx context.Context, line domain.OrderLine) error {
	o, err := f.lockedOrder(ctx, line.OrderID)
	if err != nil {
		return err
	}
	for i := range o.Lines {
		if o.Lines[i].ID == line.ID {
			o.Lines[i] = line
			return nil
		}
	}
	return domain.ErrLineNotFound
}

func (f *fakeLedger) UpdateOrderStatus(ctx context.Context, order domain.Order) error {
	if f.failStatus != nil {
		return f.failStatus
	}
	o, err := f.lockedOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	o.PaymentStatus = order.PaymentStatus
	o.LifecycleStatus = order.LifecycleStatus
	o.ClosedAt = order.ClosedAt
	return nil
}

func (f *fakeLedger) FindOrCreateCredit(ctx context.Context, candidate domain.CustomerCredit) (domain.CustomerCredit, error) {
	tx := f.tx(ctx)
	if tx == nil {
		return domain.CustomerCredit{}, errors.New("write outside transaction")
	}
	if c, ok := tx.credits[candidate.CustomerKey]; ok {
		return c, nil
	}
	f.mu.Lock()
	c, ok := f.credits[candidate.CustomerKey]
	f.mu.Unlock()
	if !ok {
		c = candidate
	}
	c.Entries = append([]domain.CreditEntry(nil), c.Entries...)
	tx.credits[candidate.CustomerKey] = c
	return c, nil
}

func (f *fakeLedger) AppendCreditEntry(ctx context.Context, entry domain.CreditEntry) error {
	tx := f.tx(ctx)
	if tx == nil {
		return errors.New("write outside transaction")
	}
	for k, c := range tx.credits {
		if c.ID == entry.CreditID {
			c.Balance = c.Balance.Add(entry.Amount)
			c.Entries = append(c.Entries, entry)
			tx.credits[k] = c
			return nil
		}
	}
	return domain.ErrCreditNotFound
}

func (f *fakeLedger) order(id string) domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneOrder(f.orders[id])
}

func (f *fakeLedger) credit(name string) (domain.CustomerCredit, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.credits[domain.CustomerKey(name)]
	return c, ok
}

func cloneOrder(o domain.Order) domain.Order {
	c := o
	c.Lines = append([]domain.OrderLine(nil), o.Lines...)
	c.Payments = make([]domain.Payment, 0, len(o.Payments))
	for _, p := range o.Payments {
		c.Payments = append(c.Payments, clonePayment(p))
	}
	return c
}

func clonePayment(p domain.Payment) domain.Payment {
	c := p
	c.LineAllocation = make(map[string]int, len(p.LineAllocation))
	for k, v := range p.LineAllocation {
		c.LineAllocation[k] = v
	}
	return c
}

type fakeTables struct {
	mu    sync.Mutex
	freed []string
}

func (f *fakeTables) FreeTableIfIdle(_ context.Context, tableID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freed = append(f.freed, tableID)
	return nil
}

type publishedEvent struct {
	topic   string
	payload any
	opts    PublishOptions
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload any, opts PublishOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{topic: topic, payload: payload, opts: opts})
	return f.err
}

func (f *fakePublisher) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.topic)
	}
	return out
}

func (f *fakeLedger) ListLineage(_ context.Context, orderID, lineID string) ([]domain.OrderLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	var out []domain.OrderLine
	for _, l := range o.Lines {
		if l.ID == lineID || l.OriginLineID == lineID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLedger) GetCreditByKey(_ context.Context, customerKey string) (domain.CustomerCredit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.credits[customerKey]
	if !ok {
		return domain.CustomerCredit{}, domain.ErrCreditNotFound
	}
	return c, nil
}
