package repository

import (
	"context"

	"github.com/pedrosanto90/finance-tracker-rest-api/internal/domain"
)

// ExpenseRepository exposes persistence operations for Expense records.
//
// Get is the single lookup contract shared by the ownership guard and the
// handlers; both see the same ErrNotFound condition.
type ExpenseRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, expense *domain.Expense) (int64, error)
	Get(ctx context.Context, id int64) (*domain.Expense, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]domain.Expense, error)
	Update(ctx context.Context, expense *domain.Expense) error
	Delete(ctx context.Context, id int64) error
}
