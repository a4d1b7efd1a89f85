package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TransactionTypeExpense  = "expense"
	TransactionTypeIncome   = "income"
	TransactionTypeTransfer = "transfer"
)

// Transaction is the financial record rules are matched against and mutate.
// Reference fields are nil when unset.
type Transaction struct {
	ID              string          `json:"id"`
	WorkspaceID     string          `json:"workspace_id"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount"`
	Date            time.Time       `json:"date"`
	TransactionType string          `json:"transaction_type"`
	Category        *EntityRef      `json:"category,omitempty"`
	Beneficiary     *EntityRef      `json:"beneficiary,omitempty"`
	Account         *EntityRef      `json:"account,omitempty"`
	Tags            []EntityRef     `json:"tags"`
	Notes           string          `json:"notes"`
	Cleared         bool            `json:"cleared"`
}

// Clone returns a deep copy of t.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	c.Category = cloneRef(t.Category)
	c.Beneficiary = cloneRef(t.Beneficiary)
	c.Account = cloneRef(t.Account)
	if t.Tags != nil {
		c.Tags = make([]EntityRef, len(t.Tags))
		copy(c.Tags, t.Tags)
	}
	return &c
}

func cloneRef(r *EntityRef) *EntityRef {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// HasTag reports whether a tag with the given id is attached.
func (t *Transaction) HasTag(id string) bool {
	for _, tag := range t.Tags {
		if tag.ID == id {
			return true
		}
	}
	return false
}

// TagIDs returns the ids of the attached tags in order.
func (t *Transaction) TagIDs() []string {
	ids := make([]string, 0, len(t.Tags))
	for _, tag := range t.Tags {
		ids = append(ids, tag.ID)
	}
	return ids
}

// RefID returns the id of r, or "" when r is nil.
func RefID(r *EntityRef) string {
	if r == nil {
		return ""
	}
	return r.ID
}
