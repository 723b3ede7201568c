// Package registry loads and serves the chart of accounts for each jurisdiction.
package registry

import (
	"fmt"
	"strings"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
	"gopkg.in/yaml.v3"
)

// Role names an account the engine needs to find without knowing its code.
type Role string

// Role constants.
const (
	RoleSalesRevenue    Role = "sales_revenue"
	RoleOtherRevenue    Role = "other_revenue"
	RoleInterestIncome  Role = "interest_income"
	RoleCostOfGoodsSold Role = "cost_of_goods_sold"
	RoleBankFees        Role = "bank_fees"
	RoleVehicleExpense  Role = "vehicle_expense"
	RoleGeneralExpense  Role = "general_expense"
	RoleTransfer        Role = "transfer"
)

// RequiredRoles must be mapped by every chart.
var RequiredRoles = []Role{
	RoleSalesRevenue,
	RoleOtherRevenue,
	RoleBankFees,
	RoleVehicleExpense,
	RoleGeneralExpense,
	RoleTransfer,
}

// Direction reports which way money moves through a role's account. A zero
// result means the account must accept both.
func (r Role) Direction() model.Direction {
	switch r {
	case RoleSalesRevenue, RoleOtherRevenue, RoleInterestIncome:
		return model.DirectionInflow
	case RoleCostOfGoodsSold, RoleBankFees, RoleVehicleExpense, RoleGeneralExpense:
		return model.DirectionOutflow
	default:
		return ""
	}
}

// accepts reports whether an account type can serve the role.
func (r Role) accepts(t model.AccountType) bool {
	if d := r.Direction(); d != "" {
		return t.Allows(d)
	}
	return t.AllowsInflow() && t.AllowsOutflow()
}

// Chart is the on-disk shape of one jurisdiction's chart of accounts.
type Chart struct {
	Roles        map[Role]string `yaml:"roles"`
	Jurisdiction string          `yaml:"jurisdiction"`
	Name         string          `yaml:"name"`
	Currency     string          `yaml:"currency"`
	Guidance     []string        `yaml:"guidance"`
	Accounts     []model.Account `yaml:"accounts"`
}

// ParseChart decodes and validates a YAML chart.
func ParseChart(data []byte) (Chart, error) {
	var chart Chart
	if err := yaml.Unmarshal(data, &chart); err != nil {
		return Chart{}, fmt.Errorf("failed to parse chart: %w", err)
	}
	chart.Jurisdiction = NormalizeJurisdiction(chart.Jurisdiction)
	if err := chart.Validate(); err != nil {
		return Chart{}, err
	}
	return chart, nil
}

// Validate checks chart invariants: unique codes, known types, and roles that
// resolve to accounts able to take money in the role's direction.
func (c Chart) Validate() error {
	if c.Jurisdiction == "" {
		return fmt.Errorf("%w: chart has no jurisdiction", common.ErrInvalidConfig)
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("%w: chart %s has no accounts", common.ErrInvalidConfig, c.Jurisdiction)
	}

	types := make(map[string]model.AccountType, len(c.Accounts))
	for i, acct := range c.Accounts {
		code := strings.TrimSpace(acct.Code)
		if code == "" {
			return fmt.Errorf("%w: chart %s account %d has no code", common.ErrInvalidConfig, c.Jurisdiction, i)
		}
		if _, dup := types[code]; dup {
			return fmt.Errorf("%w: chart %s has duplicate code %s", common.ErrInvalidConfig, c.Jurisdiction, code)
		}
		if !acct.Type.IsValid() {
			return fmt.Errorf("%w: chart %s account %s has unknown type %q",
				common.ErrInvalidConfig, c.Jurisdiction, code, acct.Type)
		}
		types[code] = acct.Type
	}

	for _, role := range RequiredRoles {
		if _, ok := c.Roles[role]; !ok {
			return fmt.Errorf("%w: chart %s does not map role %s", common.ErrInvalidConfig, c.Jurisdiction, role)
		}
	}
	for role, code := range c.Roles {
		t, ok := types[code]
		if !ok {
			return fmt.Errorf("%w: chart %s role %s points at missing code %s",
				common.ErrInvalidConfig, c.Jurisdiction, role, code)
		}
		if !role.accepts(t) {
			return fmt.Errorf("%w: chart %s role %s cannot use %s account %s",
				common.ErrInvalidConfig, c.Jurisdiction, role, t.Label(), code)
		}
	}

	return nil
}

// NormalizeJurisdiction canonicalizes a jurisdiction code.
func NormalizeJurisdiction(j string) string {
	return strings.ToUpper(strings.TrimSpace(j))
}
