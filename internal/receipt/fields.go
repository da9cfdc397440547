package receipt

import (
	"regexp"
	"strings"
	"time"
)

// StructuredFields are the best-effort fields derived from translated
// receipt text. A field that cannot be parsed holds its placeholder; parsing
// never fails outright.
type StructuredFields struct {
	Vendor       string
	PurchaseDate string
	TotalPrice   string
	Category     string
	LineItems    []string
}

const maxVendorLen = 50

// amountPattern matches money amounts like 4.50, $4.50, 1,204.99
var amountPattern = regexp.MustCompile(`[$€£]?\s*\d{1,3}(?:,\d{3})*\.\d{2}`)

// datePatterns are tried in order against each line
var datePatterns = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}`), "2006-01-02"},
	{regexp.MustCompile(`\d{4}/\d{2}/\d{2}`), "2006/01/02"},
	{regexp.MustCompile(`\d{2}/\d{2}/\d{4}`), "01/02/2006"},
	{regexp.MustCompile(`\d{2}-\d{2}-\d{4}`), "02-01-2006"},
}

// ExtractFields derives vendor, purchase date, total price and line items
// from translated receipt text
func ExtractFields(text string) StructuredFields {
	fields := StructuredFields{
		Vendor:       PlaceholderVendor,
		PurchaseDate: PlaceholderValue,
		TotalPrice:   PlaceholderValue,
		Category:     PlaceholderCategory,
	}

	lines := make([]string, 0)
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	fields.LineItems = lines
	if len(lines) == 0 {
		return fields
	}

	// vendor: first non-empty line, truncated by runes so multi-byte
	// names stay valid UTF-8
	vendor := lines[0]
	if runes := []rune(vendor); len(runes) > maxVendorLen {
		vendor = string(runes[:maxVendorLen])
	}
	fields.Vendor = vendor

	fields.PurchaseDate = extractDate(lines)
	fields.TotalPrice = extractTotal(lines)

	return fields
}

// extractDate returns the first parseable date normalized to YYYY-MM-DD
func extractDate(lines []string) string {
	for _, line := range lines {
		for _, p := range datePatterns {
			match := p.re.FindString(line)
			if match == "" {
				continue
			}
			if d, err := time.Parse(p.layout, match); err == nil {
				return d.Format("2006-01-02")
			}
		}
	}
	return PlaceholderValue
}

// extractTotal prefers an amount on a line mentioning "total"; otherwise the
// last amount on the receipt, which is usually the grand total
func extractTotal(lines []string) string {
	last := ""
	for _, line := range lines {
		match := amountPattern.FindString(line)
		if match == "" {
			continue
		}
		amount := normalizeAmount(match)
		if strings.Contains(strings.ToLower(line), "total") {
			return amount
		}
		last = amount
	}
	if last == "" {
		return PlaceholderValue
	}
	return last
}

func normalizeAmount(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "$€£ ")
	return strings.ReplaceAll(s, ",", "")
}
