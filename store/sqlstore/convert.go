package sqlstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/generic"
)

// tsLayout is fixed width so TEXT comparison orders timestamps.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func mustTS(s string) time.Time {
	t, _ := parseTS(s)
	return t
}

func nullTS(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTS(*t), Valid: true}
}

func parseNullTS(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := parseTS(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatDate(t time.Time) string {
	return t.UTC().Format(generic.DateLayout)
}

func mustDate(s string) time.Time {
	t, _ := generic.ParseDate(s)
	return t
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
