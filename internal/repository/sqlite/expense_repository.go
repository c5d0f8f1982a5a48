package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pedrosanto90/finance-tracker-rest-api/internal/domain"
	"github.com/pedrosanto90/finance-tracker-rest-api/internal/repository"
)

const createExpensesTable = `
CREATE TABLE IF NOT EXISTS expenses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id INTEGER NOT NULL,
	amount REAL NOT NULL,
	description TEXT NOT NULL,
	date DATETIME NOT NULL,
	category TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

const createExpensesOwnerIndex = `
CREATE INDEX IF NOT EXISTS idx_expenses_owner ON expenses(owner_id);
`

type ExpenseRepository struct {
	db *sql.DB
}

func NewExpenseRepository(db *sql.DB) repository.ExpenseRepository {
	return &ExpenseRepository{db: db}
}

func (r *ExpenseRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createExpensesTable); err != nil {
		return fmt.Errorf("create expenses table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, createExpensesOwnerIndex); err != nil {
		return fmt.Errorf("create expenses owner index: %w", err)
	}
	return nil
}

func (r *ExpenseRepository) Create(ctx context.Context, expense *domain.Expense) (int64, error) {
	now := time.Now().UTC()
	expense.CreatedAt = now
	expense.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
INSERT INTO expenses (owner_id, amount, description, date, category, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		expense.OwnerID,
		expense.Amount,
		expense.Description,
		expense.Date,
		string(expense.Category),
		expense.CreatedAt,
		expense.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("expense last insert id: %w", err)
	}
	expense.ID = id
	return id, nil
}

func (r *ExpenseRepository) Get(ctx context.Context, id int64) (*domain.Expense, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, owner_id, amount, description, date, category, created_at, updated_at
FROM expenses
WHERE id = ?`,
		id,
	)
	return scanExpense(row)
}

func (r *ExpenseRepository) ListByOwner(ctx context.Context, ownerID int64) ([]domain.Expense, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, owner_id, amount, description, date, category, created_at, updated_at
FROM expenses
WHERE owner_id = ?
ORDER BY date DESC, id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []domain.Expense
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, *expense)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return expenses, nil
}

func (r *ExpenseRepository) Update(ctx context.Context, expense *domain.Expense) error {
	expense.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
UPDATE expenses
SET amount = ?, description = ?, date = ?, category = ?, updated_at = ?
WHERE id = ?`,
		expense.Amount,
		expense.Description,
		expense.Date,
		string(expense.Category),
		expense.UpdatedAt,
		expense.ID,
	)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	return requireRow(res)
}

func (r *ExpenseRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return requireRow(res)
}

func scanExpense(row interface {
	Scan(dest ...any) error
}) (*domain.Expense, error) {
	var (
		expense  domain.Expense
		category string
	)
	if err := row.Scan(
		&expense.ID,
		&expense.OwnerID,
		&expense.Amount,
		&expense.Description,
		&expense.Date,
		&category,
		&expense.CreatedAt,
		&expense.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan expense: %w", err)
	}
	expense.Category = domain.ExpenseCategory(category)
	return &expense, nil
}
