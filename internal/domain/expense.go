package domain

import "time"

type ExpenseCategory string

const (
	CategoryFood          ExpenseCategory = "FOOD"
	CategoryTransport     ExpenseCategory = "TRANSPORT"
	CategoryHousing       ExpenseCategory = "HOUSING"
	CategoryEntertainment ExpenseCategory = "ENTERTAINMENT"
	CategoryShopping      ExpenseCategory = "SHOPPING"
	CategoryHealth        ExpenseCategory = "HEALTH"
	CategoryOther         ExpenseCategory = "OTHER"
)

// Valid reports whether the category is one of the known values.
func (c ExpenseCategory) Valid() bool {
	switch c {
	case CategoryFood, CategoryTransport, CategoryHousing,
		CategoryEntertainment, CategoryShopping, CategoryHealth, CategoryOther:
		return true
	}
	return false
}

// Expense represents a financial record owned by exactly one user.
// OwnerID is bound at creation from the authenticated identity and is
// never writable by clients.
type Expense struct {
	ID          int64
	OwnerID     int64
	Amount      float64
	Description string
	Date        time.Time
	Category    ExpenseCategory
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
