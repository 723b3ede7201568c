package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/engine"
)

// ReadTransactions parses description,amount[,date[,jurisdiction]] rows.
// A leading header row is skipped.
func ReadTransactions(r io.Reader, jurisdiction string) ([]engine.Request, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var reqs []engine.Request
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		if line == 1 && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "description") {
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("%w: line %d needs description and amount", common.ErrInvalidRequest, line)
		}

		amount, err := engine.ParseAmount(record[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		req := engine.Request{
			Description:  strings.TrimSpace(record[0]),
			Amount:       amount,
			Jurisdiction: jurisdiction,
		}
		if len(record) > 2 && strings.TrimSpace(record[2]) != "" {
			date, err := time.Parse("2006-01-02", strings.TrimSpace(record[2]))
			if err != nil {
				return nil, fmt.Errorf("%w: line %d date %q is not YYYY-MM-DD", common.ErrInvalidRequest, line, record[2])
			}
			req.Date = date
		}
		if len(record) > 3 && strings.TrimSpace(record[3]) != "" {
			req.Jurisdiction = strings.TrimSpace(record[3])
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// WriteResults writes batch results as CSV, one row per request.
func WriteResults(w io.Writer, reqs []engine.Request, items []engine.BatchItem) error {
	out := csv.NewWriter(w)
	if err := out.Write([]string{"description", "amount", "account_code", "account_name", "confidence", "source", "error"}); err != nil {
		return err
	}
	for i, item := range items {
		row := []string{reqs[i].Description, reqs[i].Amount.String(), "", "", "", "", ""}
		if item.Err != nil {
			row[6] = item.Err.Error()
		} else {
			row[2] = item.Result.AccountCode
			row[3] = item.Result.AccountName
			row[4] = strconv.Itoa(item.Result.Confidence)
			row[5] = string(item.Result.Source)
		}
		if err := out.Write(row); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}
