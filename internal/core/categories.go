package core

// Suggested categories per transaction type. Categories remain
// free-form strings; these only seed the client's picker.
var (
	expenseCategories = []string{
		"Food & Dining",
		"Transportation",
		"Housing",
		"Utilities",
		"Health",
		"Entertainment",
		"Shopping",
		"Travel",
		"Education",
		"Other",
	}

	incomeCategories = []string{
		"Salary",
		"Business",
		"Investments",
		"Gifts",
		"Other",
	}
)

// SuggestedCategories returns the fixed suggestion list for a
// transaction type. Unknown types get an empty list.
func SuggestedCategories(t TransactionType) []string {
	switch t {
	case Expense:
		return append([]string(nil), expenseCategories...)
	case Income:
		return append([]string(nil), incomeCategories...)
	default:
		return nil
	}
}
