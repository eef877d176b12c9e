package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/clock"
	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	instrumentationName      = "github.com/antonio12761/roxy-bar-sub005/services/api/internal/app"
	defaultAllocationTimeout = 15 * time.Second
)

type AllocationService struct {
	repo      LedgerRepository
	tables    TableManager
	publisher EventPublisher
	clock     clock.Clock
	logger    *zap.Logger
	txTimeout time.Duration
	slack     decimal.Decimal
	newID     func() string
	tenant    string

	tracer  trace.Tracer
	batches metric.Int64Counter
	credits metric.Float64Counter
}

type AllocationOption func(*AllocationService)

// WithLogger sets the logger; nil keeps the no-op logger.
func WithLogger(l *zap.Logger) AllocationOption {
	return func(s *AllocationService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAllocationTimeout bounds each batch transaction.
func WithAllocationTimeout(d time.Duration) AllocationOption {
	return func(s *AllocationService) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// WithOverpaymentSlack overrides the multiplier applied to the remaining
// balance when checking a batch total.
func WithOverpaymentSlack(slack decimal.Decimal) AllocationOption {
	return func(s *AllocationService) {
		if slack.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			s.slack = slack
		}
	}
}

// WithDefaultTenant names the tenant events are published under when an
// order carries none.
func WithDefaultTenant(id string) AllocationOption {
	return func(s *AllocationService) {
		s.tenant = id
	}
}

// WithIDGenerator replaces the uuid generator.
func WithIDGenerator(fn func() string) AllocationOption {
	return func(s *AllocationService) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func NewAllocationService(repo LedgerRepository, tables TableManager, publisher EventPublisher, clk clock.Clock, opts ...AllocationOption) *AllocationService {
	svc := &AllocationService{
		repo:      repo,
		tables:    tables,
		publisher: publisher,
		clock:     clk,
		logger:    zap.NewNop(),
		txTimeout: defaultAllocationTimeout,
		slack:     domain.OverpaymentSlack,
		newID:     newUUID,
		tracer:    otel.Tracer(instrumentationName),
	}
	if svc.tables == nil {
		svc.tables = noopTables{}
	}
	if svc.publisher == nil {
		svc.publisher = noopPublisher{}
	}
	for _, opt := range opts {
		opt(svc)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if svc.batches, err = meter.Int64Counter("allocation.batches",
		metric.WithDescription("Allocation batches by outcome")); err != nil {
		svc.logger.Warn("allocation.batches counter unavailable", zap.Error(err))
		svc.batches = noop.Int64Counter{}
	}
	if svc.credits, err = meter.Float64Counter("allocation.credit_issued",
		metric.WithDescription("Customer credit issued from unallocated remainders")); err != nil {
		svc.logger.Warn("allocation.credit_issued counter unavailable", zap.Error(err))
		svc.credits = noop.Float64Counter{}
	}
	return svc
}

type AllocateInput struct {
	OrderID    string
	OperatorID string
	// BatchID is an optional client-generated key. A batch already recorded
	// under the same key for the order is answered from the record.
	BatchID  string
	Payments []domain.PartialPayment
}

type AllocationResult struct {
	OrderID          string               `json:"order_id"`
	PreviousStatus   domain.PaymentStatus `json:"previous_status"`
	PaymentStatus    domain.PaymentStatus `json:"payment_status"`
	RemainingBalance decimal.Decimal      `json:"remaining_balance"`
	Payments         []domain.Payment     `json:"payments"`
	Credits          []domain.CreditEntry `json:"credits"`
	Coverage         map[string]int       `json:"coverage"`
	Lines            []domain.OrderLine   `json:"-"`
	Replayed         bool                 `json:"-"`
}

// Allocate applies one batch of payments to one order in a single
// transaction and publishes the outcome once it has committed.
func (s *AllocationService) Allocate(ctx context.Context, in AllocateInput) (AllocationResult, error) {
	ctx, span := s.tracer.Start(ctx, "allocation.allocate", trace.WithAttributes(
		attribute.String("order.id", in.OrderID),
		attribute.Int("batch.size", len(in.Payments)),
	))
	defer span.End()

	res, err := s.allocate(ctx, in)

	outcome := "committed"
	switch {
	case err != nil:
		outcome = domain.Kind(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res.Replayed:
		outcome = "replayed"
	}
	s.batches.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	if err != nil {
		fields := []zap.Field{
			zap.String("order_id", in.OrderID),
			zap.String("operator_id", in.OperatorID),
			zap.String("kind", outcome),
			zap.Error(err),
		}
		if outcome == domain.KindInternal {
			s.logger.Error("allocation failed", fields...)
		} else {
			s.logger.Warn("allocation rejected", fields...)
		}
		return AllocationResult{}, err
	}
	return res, nil
}

func (s *AllocationService) allocate(ctx context.Context, in AllocateInput) (AllocationResult, error) {
	if err := validateBatchShape(in.Payments); err != nil {
		return AllocationResult{}, err
	}

	if in.BatchID != "" {
		rec, err := s.repo.FindBatch(ctx, in.OrderID, in.BatchID)
		if err != nil {
			return AllocationResult{}, err
		}
		if rec != nil {
			return decodeBatch(rec)
		}
	}

	snapshot, err := s.repo.GetOrder(ctx, in.OrderID)
	if err != nil {
		return AllocationResult{}, err
	}
	if err := validateBatch(snapshot, in.Payments, s.slack); err != nil {
		return AllocationResult{}, err
	}

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	now := s.clock.Now()
	var (
		res          AllocationResult
		order        domain.Order
		transitioned bool
	)
	err = s.repo.WithTx(txCtx, func(txCtx context.Context) error {
		locked, err := s.repo.LockOrderNoWait(txCtx, in.OrderID)
		if err != nil {
			return err
		}

		// A concurrent submission of the same batch may have committed
		// between the first lookup and the lock.
		if in.BatchID != "" {
			rec, err := s.repo.FindBatch(txCtx, in.OrderID, in.BatchID)
			if err != nil {
				return err
			}
			if rec != nil {
				res, err = decodeBatch(rec)
				return err
			}
		}

		if err := validateBatch(locked, in.Payments, s.slack); err != nil {
			return err
		}

		res, order, transitioned, err = s.apply(txCtx, locked, in, now)
		if err != nil {
			return err
		}

		if in.BatchID != "" {
			payload, err := json.Marshal(res)
			if err != nil {
				return fmt.Errorf("encode batch result: %w", err)
			}
			if err := s.repo.SaveBatch(txCtx, domain.BatchRecord{
				OrderID:   in.OrderID,
				BatchID:   in.BatchID,
				Result:    payload,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: allocation exceeded %s", domain.ErrStoreUnavailable, s.txTimeout)
		}
		return AllocationResult{}, err
	}
	if res.Replayed {
		return res, nil
	}

	s.logger.Info("allocation committed",
		zap.String("order_id", res.OrderID),
		zap.String("operator_id", in.OperatorID),
		zap.Int("payments", len(res.Payments)),
		zap.String("previous_status", string(res.PreviousStatus)),
		zap.String("payment_status", string(res.PaymentStatus)),
		zap.String("remaining_balance", res.RemainingBalance.StringFixed(2)),
	)
	s.publishOutcome(ctx, order, res, transitioned, now)
	return res, nil
}

// apply runs inside the transaction, with the order locked and validated.
func (s *AllocationService) apply(ctx context.Context, order domain.Order, in AllocateInput, now time.Time) (AllocationResult, domain.Order, bool, error) {
	st := newLedgerState(order, s.newID, now)
	originalTotal := st.total()

	res := AllocationResult{
		OrderID:        order.ID,
		PreviousStatus: order.PaymentStatus,
		Payments:       make([]domain.Payment, 0, len(in.Payments)),
	}

	for _, p := range in.Payments {
		payment := domain.Payment{
			ID:             s.newID(),
			OrderID:        order.ID,
			BatchID:        in.BatchID,
			Amount:         p.Amount,
			Method:         p.Method,
			PayerName:      strings.TrimSpace(p.PayerName),
			OperatorID:     in.OperatorID,
			LineAllocation: make(map[string]int),
			CreatedAt:      now,
		}
		if err := s.repo.CreatePayment(ctx, payment); err != nil {
			return AllocationResult{}, domain.Order{}, false, err
		}

		var (
			unallocated decimal.Decimal
			err         error
		)
		if p.FreeForm() {
			unallocated, err = st.applyAuto(&payment)
		} else {
			unallocated, err = st.applyExplicit(&payment, p.Lines)
		}
		if err != nil {
			return AllocationResult{}, domain.Order{}, false, err
		}
		if unallocated.IsPositive() {
			payment.UnallocatedAmount = decimal.NewNullDecimal(domain.RoundCurrency(unallocated))
		}

		inserted, updated := st.drain()
		for _, l := range inserted {
			if err := s.repo.InsertLine(ctx, l); err != nil {
				return AllocationResult{}, domain.Order{}, false, err
			}
		}
		for _, l := range updated {
			if err := s.repo.UpdateLine(ctx, l); err != nil {
				return AllocationResult{}, domain.Order{}, false, err
			}
		}
		if err := s.repo.UpdatePaymentAllocation(ctx, payment); err != nil {
			return AllocationResult{}, domain.Order{}, false, err
		}

		if unallocated.GreaterThan(domain.CreditThreshold) && payment.PayerName != "" {
			entry, err := s.issueCredit(ctx, payment, unallocated, now)
			if err != nil {
				return AllocationResult{}, domain.Order{}, false, err
			}
			res.Credits = append(res.Credits, entry)
		}
		res.Payments = append(res.Payments, payment)
	}

	if got := st.total(); !got.Equal(originalTotal) {
		return AllocationResult{}, domain.Order{}, false,
			fmt.Errorf("allocation on order %s changed its total from %s to %s", order.ID, originalTotal, got)
	}

	order.Lines = st.snapshot()
	order.Payments = append(order.Payments, res.Payments...)
	order.PaymentStatus = domain.DerivePaymentStatus(order.Lines, order.PaidToDate())
	if res.PreviousStatus.Regresses(order.PaymentStatus) {
		return AllocationResult{}, domain.Order{}, false,
			fmt.Errorf("allocation on order %s would move it from %s back to %s", order.ID, res.PreviousStatus, order.PaymentStatus)
	}

	transitioned := order.PaymentStatus == domain.PaymentStatusFullyPaid && res.PreviousStatus != domain.PaymentStatusFullyPaid
	if transitioned {
		order.LifecycleStatus = domain.LifecycleClosed
		closedAt := now
		order.ClosedAt = &closedAt
	}
	if err := s.repo.UpdateOrderStatus(ctx, order); err != nil {
		return AllocationResult{}, domain.Order{}, false, err
	}
	if transitioned && order.TableID != "" {
		if err := s.tables.FreeTableIfIdle(ctx, order.TableID, order.ID); err != nil {
			return AllocationResult{}, domain.Order{}, false, fmt.Errorf("free table %s: %w", order.TableID, err)
		}
	}

	res.PaymentStatus = order.PaymentStatus
	res.RemainingBalance = order.RemainingBalance()
	res.Coverage = st.attributed
	res.Lines = order.Lines
	return res, order, transitioned, nil
}

func (s *AllocationService) issueCredit(ctx context.Context, payment domain.Payment, amount decimal.Decimal, now time.Time) (domain.CreditEntry, error) {
	account, err := s.repo.FindOrCreateCredit(ctx, domain.CustomerCredit{
		ID:           s.newID(),
		CustomerKey:  domain.CustomerKey(payment.PayerName),
		CustomerName: payment.PayerName,
		Balance:      decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return domain.CreditEntry{}, err
	}

	entry := domain.CreditEntry{
		ID:        s.newID(),
		CreditID:  account.ID,
		Kind:      domain.CreditEntryAcconto,
		Amount:    amount,
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		CreatedAt: now,
	}
	if err := s.repo.AppendCreditEntry(ctx, entry); err != nil {
		return domain.CreditEntry{}, err
	}
	s.credits.Add(ctx, amount.InexactFloat64())
	return entry, nil
}

func decodeBatch(rec *domain.BatchRecord) (AllocationResult, error) {
	var res AllocationResult
	if err := json.Unmarshal(rec.Result, &res); err != nil {
		return AllocationResult{}, fmt.Errorf("decode batch %s: %w", rec.BatchID, err)
	}
	res.Replayed = true
	return res, nil
}
