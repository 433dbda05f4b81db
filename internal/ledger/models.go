package ledger

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies a journal entry
type TransactionType string

const (
	TypeTicketPurchase    TransactionType = "ticketPurchase"
	TypeRoutePassPurchase TransactionType = "routePassPurchase"
	TypeRefundPayment     TransactionType = "refundPayment"
	TypeConversion        TransactionType = "conversion"
	TypeFreePurchase      TransactionType = "freePurchase"
)

// ItemType classifies a single line item
type ItemType string

const (
	ItemTicketSale   ItemType = "ticketSale"
	ItemTicketRefund ItemType = "ticketRefund"
	ItemRoutePass    ItemType = "routePass"
	ItemDiscount     ItemType = "discount"
	ItemPayment      ItemType = "payment"
	ItemTransfer     ItemType = "transfer"
	ItemAccount      ItemType = "account"
)

// Actor identifies who created a transaction
type Actor struct {
	Scope string `json:"scope"`
	ID    string `json:"id"`
}

// Scopes accepted in Actor and auth credentials
const (
	ScopeUser       = "user"
	ScopeAdmin      = "admin"
	ScopeSuperadmin = "superadmin"
	ScopeDriver     = "driver"
	ScopeSystem     = "system"
)

// Transaction is a balanced journal entry. The zero-sum invariant
// holds over Items for every transaction returned by Builder.Build.
type Transaction struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Type        TransactionType `json:"type" db:"type"`
	Committed   bool            `json:"committed" db:"committed"`
	Description string          `json:"description" db:"description"`
	CreatedBy   Actor           `json:"created_by" db:"created_by"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	Items       []*Item         `json:"items"`
}

// Item is one debit or credit posting. Exactly one of Debit/Credit is
// positive; amounts are non-negative and the sign comes from the
// column.
type Item struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	TransactionID uuid.UUID  `json:"transaction_id" db:"transaction_id"`
	ItemType      ItemType   `json:"item_type" db:"item_type"`
	ItemID        *uuid.UUID `json:"item_id,omitempty" db:"item_id"`
	Debit         float64    `json:"debit" db:"debit"`
	Credit        float64    `json:"credit" db:"credit"`
	Notes         Notes      `json:"notes,omitempty" db:"notes"`
}

// Amount returns the posted value regardless of side
func (i *Item) Amount() float64 {
	if i.Debit > 0 {
		return i.Debit
	}
	return i.Credit
}

// Signed returns debit-positive, credit-negative
func (i *Item) Signed() float64 {
	return i.Debit - i.Credit
}

// ItemsOfType returns the items with the given type, in insertion order
func (t *Transaction) ItemsOfType(itemType ItemType) []*Item {
	var out []*Item
	for _, item := range t.Items {
		if item.ItemType == itemType {
			out = append(out, item)
		}
	}
	return out
}

// PaymentItem returns the transaction's payment line, or nil
func (t *Transaction) PaymentItem() *Item {
	for _, item := range t.Items {
		if item.ItemType == ItemPayment {
			return item
		}
	}
	return nil
}

// SignedSum returns Σ debit − Σ credit over all items
func (t *Transaction) SignedSum() float64 {
	var sum float64
	for _, item := range t.Items {
		sum += item.Signed()
	}
	return sum
}

// Totals sums debits and credits per item type
func (t *Transaction) Totals() map[ItemType]Total {
	totals := make(map[ItemType]Total)
	for _, item := range t.Items {
		total := totals[item.ItemType]
		total.Debit += item.Debit
		total.Credit += item.Credit
		totals[item.ItemType] = total
	}
	return totals
}

// Total is a per-type debit/credit sum
type Total struct {
	Debit  float64 `json:"debit"`
	Credit float64 `json:"credit"`
}
