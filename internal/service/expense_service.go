package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pedrosanto90/finance-tracker-rest-api/internal/domain"
	"github.com/pedrosanto90/finance-tracker-rest-api/internal/repository"
	"github.com/pedrosanto90/finance-tracker-rest-api/internal/storage"
)

// ErrExportUnavailable is returned when no object storage is configured.
var ErrExportUnavailable = errors.New("export storage not configured")

// ExpenseInput carries the client-supplied fields of an expense. The owner
// is never part of it.
type ExpenseInput struct {
	Amount      float64
	Description string
	Date        time.Time
	Category    domain.ExpenseCategory
}

// ExpensePatch carries a partial update; nil fields are left unchanged.
type ExpensePatch struct {
	Amount      *float64
	Description *string
	Date        *time.Time
	Category    *domain.ExpenseCategory
}

// ExpenseService coordinates expense operations backed by the repository.
// It trusts that the identity middleware and ownership guard have already
// run; ownerID arguments come from the verified identity, never the client.
type ExpenseService interface {
	Create(ctx context.Context, ownerID int64, input ExpenseInput) (*domain.Expense, error)
	Get(ctx context.Context, id int64) (*domain.Expense, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]domain.Expense, error)
	Update(ctx context.Context, id int64, patch ExpensePatch) (*domain.Expense, error)
	Delete(ctx context.Context, id int64) error
	ExportByOwner(ctx context.Context, ownerID int64) (string, error)
	ListExports(ctx context.Context, ownerID int64) ([]storage.ObjectInfo, error)
}

// ExportOptions configures where expense snapshots are uploaded.
type ExportOptions struct {
	Bucket    string
	KeyPrefix string
}

type expenseService struct {
	expenses repository.ExpenseRepository
	storage  storage.Service
	export   ExportOptions
}

func NewExpenseService(expenses repository.ExpenseRepository, store storage.Service, export ExportOptions) ExpenseService {
	return &expenseService{
		expenses: expenses,
		storage:  store,
		export:   export,
	}
}

func (s *expenseService) Create(ctx context.Context, ownerID int64, input ExpenseInput) (*domain.Expense, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	expense := &domain.Expense{
		OwnerID:     ownerID,
		Amount:      input.Amount,
		Description: input.Description,
		Date:        input.Date,
		Category:    input.Category,
	}

	if _, err := s.expenses.Create(ctx, expense); err != nil {
		return nil, err
	}
	return expense, nil
}

func (s *expenseService) Get(ctx context.Context, id int64) (*domain.Expense, error) {
	return s.expenses.Get(ctx, id)
}

func (s *expenseService) ListByOwner(ctx context.Context, ownerID int64) ([]domain.Expense, error) {
	return s.expenses.ListByOwner(ctx, ownerID)
}

func (s *expenseService) Update(ctx context.Context, id int64, patch ExpensePatch) (*domain.Expense, error) {
	expense, err := s.expenses.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Amount != nil {
		if *patch.Amount <= 0 {
			return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
		}
		expense.Amount = *patch.Amount
	}
	if patch.Description != nil {
		if strings.TrimSpace(*patch.Description) == "" {
			return nil, fmt.Errorf("%w: description is required", ErrInvalidInput)
		}
		expense.Description = *patch.Description
	}
	if patch.Date != nil {
		expense.Date = *patch.Date
	}
	if patch.Category != nil {
		if !patch.Category.Valid() {
			return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, *patch.Category)
		}
		expense.Category = *patch.Category
	}

	if err := s.expenses.Update(ctx, expense); err != nil {
		return nil, err
	}
	return expense, nil
}

func (s *expenseService) Delete(ctx context.Context, id int64) error {
	return s.expenses.Delete(ctx, id)
}

// ExportByOwner uploads a JSON snapshot of the owner's expenses to object
// storage and returns the object location.
func (s *expenseService) ExportByOwner(ctx context.Context, ownerID int64) (string, error) {
	if s.storage == nil || s.export.Bucket == "" {
		return "", ErrExportUnavailable
	}

	expenses, err := s.expenses.ListByOwner(ctx, ownerID)
	if err != nil {
		return "", err
	}

	records := make([]exportRecord, len(expenses))
	for i, e := range expenses {
		records[i] = exportRecord{
			ID:          e.ID,
			Amount:      e.Amount,
			Description: e.Description,
			Date:        e.Date.Format(time.RFC3339),
			Category:    string(e.Category),
		}
	}

	snapshot := exportSnapshot{
		OwnerID:    ownerID,
		ExportedAt: time.Now().UTC(),
		Expenses:   records,
	}

	body, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}

	key := s.ownerPrefix(ownerID) + fmt.Sprintf("expenses-%s.json", snapshot.ExportedAt.Format("20060102T150405Z"))

	location, err := s.storage.PutObject(ctx, s.export.Bucket, key, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	return location, nil
}

// ListExports returns the snapshots previously uploaded for the owner.
func (s *expenseService) ListExports(ctx context.Context, ownerID int64) ([]storage.ObjectInfo, error) {
	if s.storage == nil || s.export.Bucket == "" {
		return nil, ErrExportUnavailable
	}
	return s.storage.ListObjects(ctx, s.export.Bucket, s.ownerPrefix(ownerID))
}

// ownerPrefix scopes object keys per user so one user's exports are never
// listed for another.
func (s *expenseService) ownerPrefix(ownerID int64) string {
	prefix := fmt.Sprintf("users/%d/", ownerID)
	if base := strings.Trim(s.export.KeyPrefix, "/"); base != "" {
		prefix = base + "/" + prefix
	}
	return prefix
}

type exportSnapshot struct {
	OwnerID    int64          `json:"owner_id"`
	ExportedAt time.Time      `json:"exported_at"`
	Expenses   []exportRecord `json:"expenses"`
}

type exportRecord struct {
	ID          int64   `json:"id"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	Date        string  `json:"date"`
	Category    string  `json:"category"`
}

func validateInput(input ExpenseInput) error {
	if input.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(input.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	if input.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	if !input.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, input.Category)
	}
	return nil
}
