package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/shopspring/decimal"
)

// FingerprintInput lists the request fields that address a cached result.
type FingerprintInput struct {
	Date         time.Time
	Amount       decimal.Decimal
	Description  string
	Jurisdiction string
	User         string
}

// Fingerprint derives a deterministic cache key. Descriptions that differ
// only in case, accents or spacing share a key. The amount is kept exact so
// sub-cent amounts of opposite sign never collide.
func Fingerprint(in FingerprintInput) string {
	date := ""
	if !in.Date.IsZero() {
		date = in.Date.Format("2006-01-02")
	}

	parts := []string{
		common.Normalize(in.Description),
		in.Amount.String(),
		date,
		strings.ToUpper(strings.TrimSpace(in.Jurisdiction)),
		strings.TrimSpace(in.User),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
