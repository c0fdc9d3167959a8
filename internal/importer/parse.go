package importer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Quantities are stored in INTEGER columns.
var (
	maxQty = decimal.NewFromInt(math.MaxInt32)
	minQty = decimal.NewFromInt(math.MinInt32)
)

func qtyInRange(d decimal.Decimal) bool {
	d = d.Truncate(0)
	return d.Cmp(maxQty) <= 0 && d.Cmp(minQty) >= 0
}

// parseQty reads a whole quantity. Thousands separators are dropped and a
// fractional part is truncated, so "1,200" is 1200 and "3.00" is 3. ok is
// false for a blank cell.
func parseQty(raw string) (int, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return 0, false, fmt.Errorf("invalid number %q", raw)
	}
	if !qtyInRange(d) {
		return 0, false, fmt.Errorf("number out of range %q", raw)
	}
	return int(d.IntPart()), true, nil
}

// parseCountQty reads a counted quantity where a comma is the decimal mark.
// Unreadable or out-of-range values count as 0.
func parseCountQty(raw string) int {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	if raw == "" {
		return 0
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !qtyInRange(d) {
		return 0
	}
	return int(d.IntPart())
}

// parseMoney reads a VND amount. Grouping commas and dots followed by three
// digits are thousands separators.
func parseMoney(raw string) (int64, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	clean := strings.ReplaceAll(raw, ",", "")
	if parts := strings.Split(clean, "."); len(parts) > 2 {
		clean = strings.Join(parts, "")
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, false, fmt.Errorf("invalid amount %q", raw)
	}
	if d.IsNegative() {
		return 0, false, fmt.Errorf("negative amount %q", raw)
	}
	return d.Round(0).IntPart(), true, nil
}

var dateLayouts = []string{
	"02/01/2006",
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
	"2/1/2006",
	time.DateOnly,
	time.DateTime,
	"2006-01-02T15:04",
	time.RFC3339,
	"02-01-2006",
}

// parseDate reads dd/mm/yyyy, yyyy-mm-dd (optionally with time) or an Excel
// serial day number, in loc. ok is false for a blank cell.
func parseDate(raw string, loc *time.Location) (time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true, nil
		}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial > 0 {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("invalid date %q", raw)
}
