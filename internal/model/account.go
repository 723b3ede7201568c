// Package model defines the core domain models used throughout the application.
package model

import "fmt"

// AccountType is the accounting class of a chart-of-accounts entry.
type AccountType string

// Account type constants.
const (
	AccountTypeRevenue        AccountType = "revenue"
	AccountTypeDirectCost     AccountType = "direct_cost"
	AccountTypeExpense        AccountType = "expense"
	AccountTypeAssetLiability AccountType = "asset_liability"
	AccountTypeTax            AccountType = "tax"
	AccountTypeTransfer       AccountType = "transfer"
	AccountTypeEquity         AccountType = "equity"
)

// AccountTypes lists every supported account type.
var AccountTypes = []AccountType{
	AccountTypeRevenue,
	AccountTypeDirectCost,
	AccountTypeExpense,
	AccountTypeAssetLiability,
	AccountTypeTax,
	AccountTypeTransfer,
	AccountTypeEquity,
}

// IsValid reports whether t is a known account type.
func (t AccountType) IsValid() bool {
	for _, known := range AccountTypes {
		if t == known {
			return true
		}
	}
	return false
}

// AllowsOutflow reports whether money leaving the bank account can be booked here.
func (t AccountType) AllowsOutflow() bool {
	return t != AccountTypeRevenue
}

// AllowsInflow reports whether money entering the bank account can be booked here.
func (t AccountType) AllowsInflow() bool {
	return t != AccountTypeExpense && t != AccountTypeDirectCost
}

// Allows reports whether the account type is compatible with a direction.
// Transfers accept either sign.
func (t AccountType) Allows(d Direction) bool {
	switch d {
	case DirectionOutflow:
		return t.AllowsOutflow()
	case DirectionInflow:
		return t.AllowsInflow()
	default:
		return true
	}
}

// Label returns a human readable name for the account type.
func (t AccountType) Label() string {
	switch t {
	case AccountTypeRevenue:
		return "Revenue"
	case AccountTypeDirectCost:
		return "Direct Cost"
	case AccountTypeExpense:
		return "Expense"
	case AccountTypeAssetLiability:
		return "Asset/Liability"
	case AccountTypeTax:
		return "Tax"
	case AccountTypeTransfer:
		return "Transfer"
	case AccountTypeEquity:
		return "Equity"
	default:
		return string(t)
	}
}

// Account is a single chart-of-accounts entry.
type Account struct {
	Code        string      `json:"code" yaml:"code"`
	Name        string      `json:"name" yaml:"name"`
	Type        AccountType `json:"type" yaml:"type"`
	TaxCode     string      `json:"tax_code" yaml:"tax_code"`
	Description string      `json:"description,omitempty" yaml:"description"`
}

func (a Account) String() string {
	return fmt.Sprintf("%s %s (%s)", a.Code, a.Name, a.Type.Label())
}
