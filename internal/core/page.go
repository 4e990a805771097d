package core

const (
	CalendarView ViewMode = "calendar"
	BillingView  ViewMode = "billing"
)

// ViewMode selects how expenses are grouped into months.
type ViewMode string

func (v ViewMode) IsValid() bool {
	return v == CalendarView || v == BillingView
}

// MonthPage is one page of a month view, as served from the cache.
type MonthPage struct {
	UserID   string        `json:"userId"`
	Month    MonthKey      `json:"month"`
	Mode     ViewMode      `json:"mode"`
	Page     int           `json:"page"`
	Limit    int           `json:"limit"`
	Total    Money         `json:"total"`
	Count    int           `json:"count"`
	Expenses []PageExpense `json:"expenses"`
}

// PageExpense is the cached projection of an Expense.
type PageExpense struct {
	ID           string    `json:"id"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	Amount       Money     `json:"amount"`
	Date         string    `json:"date"`
	OriginID     *string   `json:"originId,omitempty"`
	DebtorID     *string   `json:"debtorId,omitempty"`
	Parcela      string    `json:"parcela,omitempty"`
	BillingMonth *MonthKey `json:"billingMonth,omitempty"`
	Recurring    bool      `json:"recurring"`
	Fixed        bool      `json:"fixed"`
}

func NewPageExpense(e Expense) PageExpense {
	return PageExpense{
		ID:           e.ID,
		Description:  e.Description,
		Category:     e.Category,
		Amount:       e.Amount,
		Date:         e.Date.UTC().Format("2006-01-02"),
		OriginID:     e.OriginID,
		DebtorID:     e.DebtorID,
		Parcela:      e.Parcela,
		BillingMonth: e.BillingMonth,
		Recurring:    e.Recurring,
		Fixed:        e.Fixed,
	}
}
