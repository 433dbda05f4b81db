package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// Keys used in entity and item notes documents
const (
	NoteDiscountValue         = "discountValue"
	NotePrice                 = "price"
	NoteRefundedTransactionID = "refundedTransactionId"
	NoteDescription           = "description"
	NoteCode                  = "code"
	NotePromoID               = "promoId"
	NoteAmounts               = "amounts"
	NoteProcessingFee         = "processingFee"
)

// Notes is the free-form JSONB document carried by tickets, route
// passes and line items.
type Notes map[string]any

// Value implements driver.Valuer for JSONB columns
func (n Notes) Value() (driver.Value, error) {
	if n == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(n)
}

// Scan implements sql.Scanner for JSONB columns
func (n *Notes) Scan(value any) error {
	if value == nil {
		*n = Notes{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("ledger: unsupported notes column type")
	}

	if len(raw) == 0 {
		*n = Notes{}
		return nil
	}
	return json.Unmarshal(raw, n)
}

// Float reads a numeric key, tolerating the types JSON decoding
// produces. Missing or non-numeric keys read as zero.
func (n Notes) Float(key string) float64 {
	switch v := n[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

// Bool reads a boolean key, false when missing
func (n Notes) Bool(key string) bool {
	v, _ := n[key].(bool)
	return v
}

// String reads a string key, empty when missing
func (n Notes) String(key string) string {
	if v, ok := n[key].(string); ok {
		return v
	}
	return ""
}

// Clone returns a shallow copy
func (n Notes) Clone() Notes {
	if n == nil {
		return Notes{}
	}
	out := make(Notes, len(n))
	for k, v := range n {
		out[k] = v
	}
	return out
}
