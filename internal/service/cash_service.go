package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/karolcichosz/investment-plans-design/internal/balance"
	"github.com/karolcichosz/investment-plans-design/internal/model"
	"github.com/karolcichosz/investment-plans-design/internal/repository"
)

// CashService owns the authoritative balances and announces every change with CashBalanceUpdated.
type CashService struct {
	store          balance.Store
	transactionMgr repository.TransactionManager
	outbox         *OutboxWriter
	logger         *slog.Logger
	now            func() time.Time
}

// NewCashService creates a new CashService.
func NewCashService(
	store balance.Store,
	transactionMgr repository.TransactionManager,
	outbox *OutboxWriter,
	logger *slog.Logger,
) *CashService {
	return &CashService{
		store:          store,
		transactionMgr: transactionMgr,
		outbox:         outbox,
		logger:         logger,
		now:            time.Now,
	}
}

// GetBalance returns the user's balance.
func (s *CashService) GetBalance(ctx context.Context, userID string) (balance.Snapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return balance.Snapshot{}, model.ErrUserIDRequired
	}

	return s.store.Get(ctx, userID)
}

// AllBalances returns every known balance.
func (s *CashService) AllBalances(ctx context.Context) ([]balance.Snapshot, error) {
	return s.store.All(ctx)
}

// SetBalance replaces the user's balance.
func (s *CashService) SetBalance(ctx context.Context, userID string, amount decimal.Decimal) (balance.Snapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return balance.Snapshot{}, model.ErrUserIDRequired
	}

	if amount.IsNegative() {
		return balance.Snapshot{}, model.ErrInvalidAmount
	}

	return s.update(ctx, userID, func(balance.Snapshot, bool) (decimal.Decimal, error) {
		return amount, nil
	})
}

// Reserve debits amount when the balance covers it.
func (s *CashService) Reserve(ctx context.Context, userID string, amount decimal.Decimal) (balance.Snapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return balance.Snapshot{}, model.ErrUserIDRequired
	}

	if !amount.IsPositive() {
		return balance.Snapshot{}, model.ErrInvalidAmount
	}

	return s.update(ctx, userID, func(cur balance.Snapshot, exists bool) (decimal.Decimal, error) {
		if !exists {
			return decimal.Zero, model.ErrBalanceNotFound
		}

		if cur.Balance.LessThan(amount) {
			return decimal.Zero, fmt.Errorf("%w: balance %s, requested %s", model.ErrInsufficientFunds, cur.Balance, amount)
		}

		return cur.Balance.Sub(amount), nil
	})
}

// PublishInitialBalances announces every seeded balance so replicas start in sync.
func (s *CashService) PublishInitialBalances(ctx context.Context) error {
	snapshots, err := s.store.All(ctx)
	if err != nil {
		return err
	}

	for _, snap := range snapshots {
		if _, err := s.update(ctx, snap.UserID, func(cur balance.Snapshot, _ bool) (decimal.Decimal, error) {
			return cur.Balance, nil
		}); err != nil {
			return fmt.Errorf("failed to publish initial balance for %s: %w", snap.UserID, err)
		}
	}

	s.logger.Info("initial balances published", slog.Int("users", len(snapshots)))

	return nil
}

// update changes a balance under the user's lock. The outbox record commits before
// the in-memory value changes, so a failed write leaves the balance untouched.
func (s *CashService) update(ctx context.Context, userID string, fn balance.UpdateFunc) (balance.Snapshot, error) {
	return s.store.Update(ctx, userID, func(cur balance.Snapshot, exists bool) (decimal.Decimal, error) {
		next, err := fn(cur, exists)
		if err != nil {
			return decimal.Zero, err
		}

		err = s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
			_, err := s.outbox.Append(ctx, AppendParams{
				AggregateID:   userID,
				AggregateType: model.AggregateTypeCashBalance,
				EventType:     model.EventTypeCashBalanceUpdated,
				Payload: model.CashBalanceUpdatedEvent{
					UserID:    userID,
					Balance:   next,
					Timestamp: s.now(),
				},
			})

			return err
		})
		if err != nil {
			return decimal.Zero, err
		}

		s.logger.Info("cash balance updated",
			slog.String("user_id", userID),
			slog.String("previous", cur.Balance.String()),
			slog.String("balance", next.String()),
		)

		return next, nil
	})
}
