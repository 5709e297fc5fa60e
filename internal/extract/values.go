package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

var trailingZeroDecimals = regexp.MustCompile(`^(-?\d+)\.0+$`)

// CleanID normalises client codes and NITs that went through a spreadsheet:
// "12345.0" and "1.2345e+04" both become "12345".
func CleanID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if m := trailingZeroDecimals.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if strings.ContainsAny(s, "eE") {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return strconv.FormatInt(int64(f), 10)
		}
	}
	return s
}

// ParseAmount reads a money cell. Currency symbols and spaces are ignored; when both
// '.' and ',' appear the right-most one is the decimal separator. Unparseable → zero.
func ParseAmount(s string) decimal.Decimal {
	d, ok := parseAmount(s)
	if !ok {
		return decimal.Zero
	}
	return d
}

// AmountOK is ParseAmount that also reports whether the cell held a number.
func AmountOK(s string) (decimal.Decimal, bool) {
	return parseAmount(s)
}

func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '$', ' ', '\u00a0', '\t':
			return -1
		}
		return r
	}, s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "COP"), "USD")
	if s == "" || s == "-" {
		return decimal.Zero, false
	}
	dot, comma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-comma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseInt reads an integer-ish cell ("12", "12.0", "-3"), 0 when invalid.
func ParseInt(s string) (int, bool) {
	d, ok := parseAmount(s)
	if !ok {
		return 0, false
	}
	return int(d.IntPart()), true
}

// Date truncates t to its civil date, expressed at UTC midnight so that day
// differences are exact.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns to − from in whole days.
func DaysBetween(from, to time.Time) int {
	return int(Date(to).Sub(Date(from)).Hours() / 24)
}

// FormatDate renders a civil date as 2006-01-02, "" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

var (
	strictDayFirst = []string{"2/1/2006"}

	dayFirstLayouts = []string{
		"2/1/2006",
		"2/1/2006 15:04",
		"2/1/2006 15:04:05",
		"2/1/2006 3:04:05 PM",
		"2/1/2006 3:04 PM",
		"2-1-2006",
		"2-1-2006 15:04:05",
		"2.1.2006",
		"2/1/06",
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		time.RFC3339,
		"2006/01/02",
	}

	isoLayouts = []string{
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		time.RFC3339,
		"2006/01/02",
		"2006-01-02 15:04:05.000",
	}

	dottedLayouts = []string{"02.01.2006", "2.1.2006"}
)

// ParseDayFirstStrict accepts only dd/mm/yyyy.
func ParseDayFirstStrict(s string) (time.Time, bool) {
	return parseWith(s, strictDayFirst, false)
}

// ParseDayFirst accepts the day-first layouts seen in exported logs, ISO dates and
// Excel serial numbers.
func ParseDayFirst(s string) (time.Time, bool) {
	return parseWith(s, dayFirstLayouts, true)
}

// ParseISO accepts ISO-ish layouts and Excel serial numbers.
func ParseISO(s string) (time.Time, bool) {
	return parseWith(s, isoLayouts, true)
}

// ParseDotted accepts dd.mm.yyyy as exported by the ERP.
func ParseDotted(s string) (time.Time, bool) {
	return parseWith(s, dottedLayouts, false)
}

// ParseAnyDate tries ISO, day-first and dotted layouts in that order.
func ParseAnyDate(s string) (time.Time, bool) {
	if t, ok := ParseISO(s); ok {
		return t, true
	}
	if t, ok := ParseDayFirst(s); ok {
		return t, true
	}
	return ParseDotted(s)
}

func parseWith(s string, layouts []string, serial bool) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if serial {
		return excelSerial(s)
	}
	return time.Time{}, false
}

var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// excelSerial converts spreadsheet day serials (1954..2119) into timestamps.
func excelSerial(s string) (time.Time, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 20000 || f > 80000 {
		return time.Time{}, false
	}
	days := math.Floor(f)
	secs := math.Round((f - days) * 86400)
	return excelEpoch.AddDate(0, 0, int(days)).Add(time.Duration(secs) * time.Second), true
}

// Round rounds f to the given decimals, half away from zero.
func Round(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}

// Pct returns part/whole*100 rounded to one decimal, 0 when whole is 0.
func Pct(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return Round(part/whole*100, 1)
}
