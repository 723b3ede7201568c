package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction describes which way money moved in a transaction.
type Direction string

// Direction constants.
const (
	DirectionInflow  Direction = "inflow"
	DirectionOutflow Direction = "outflow"
	DirectionNone    Direction = "none"
)

// Transaction represents a single bank statement line awaiting categorization.
type Transaction struct {
	Date                time.Time       `json:"date,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	ID                  string          `json:"id,omitempty"`
	Description         string          `json:"description"`
	OriginalDescription string          `json:"original_description,omitempty"`
	PriorCategory       string          `json:"prior_category,omitempty"`
	PriorAccountCode    string          `json:"prior_account_code,omitempty"`
}

// Direction reports the money direction implied by the amount sign.
func (t Transaction) Direction() Direction {
	switch t.Amount.Sign() {
	case -1:
		return DirectionOutflow
	case 1:
		return DirectionInflow
	default:
		return DirectionNone
	}
}

// IsOutflow reports whether the amount is negative.
func (t Transaction) IsOutflow() bool {
	return t.Amount.IsNegative()
}

// IsInflow reports whether the amount is positive.
func (t Transaction) IsInflow() bool {
	return t.Amount.IsPositive()
}
