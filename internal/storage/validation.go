package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/ledgerline/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrInvalidRecord     = errors.New("invalid record")
	ErrSchemaVersion     = errors.New("database schema version mismatch")
	ErrUnsupportedSchema = errors.New("database schema is newer than this binary")
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateRule(r model.Rule) error {
	if r.ID == "" {
		return fmt.Errorf("%w: rule missing ID", ErrInvalidRecord)
	}
	if len(r.Keywords) == 0 {
		return fmt.Errorf("%w: rule %s has no keywords", ErrInvalidRecord, r.ID)
	}
	if r.AccountCode == "" || r.Jurisdiction == "" {
		return fmt.Errorf("%w: rule %s missing account code or jurisdiction", ErrInvalidRecord, r.ID)
	}
	return nil
}

func validateCorrection(c model.Correction) error {
	if c.ID == "" {
		return fmt.Errorf("%w: correction missing ID", ErrInvalidRecord)
	}
	if c.Pattern == "" || c.AccountCode == "" || c.Jurisdiction == "" {
		return fmt.Errorf("%w: correction %s missing pattern, account code or jurisdiction", ErrInvalidRecord, c.ID)
	}
	return nil
}
