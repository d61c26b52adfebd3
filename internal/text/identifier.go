package text

import (
	"regexp"
	"strings"
)

// Identifiers holds structured identifier candidates pulled from a free-text
// query. Retrieval uses them to boost exact-match business records.
type Identifiers struct {
	OrderNumbers    []string `json:"order_numbers"`
	InvoiceNumbers  []string `json:"invoice_numbers"`
	PONumbers       []string `json:"po_numbers"`
	TrackingNumbers []string `json:"tracking_numbers"`
}

// Empty reports whether no identifiers were found.
func (i Identifiers) Empty() bool {
	return len(i.OrderNumbers) == 0 && len(i.InvoiceNumbers) == 0 &&
		len(i.PONumbers) == 0 && len(i.TrackingNumbers) == 0
}

var (
	// Explicit-prefix patterns. The captured token must contain a digit so
	// phrases like "order of magnitude" never match.
	orderRe   = regexp.MustCompile(`(?i)\border\s*[#:]?\s*([A-Za-z]*\d[A-Za-z0-9-]*)`)
	invoiceRe = regexp.MustCompile(`(?i)\b(?:invoice|inv)\s*[#:]?\s*([A-Za-z]*-?[A-Za-z]*\d[A-Za-z0-9-]*)`)
	poRe      = regexp.MustCompile(`(?i)\bpo\s*[-#:]?\s*([A-Za-z]*\d[A-Za-z0-9-]*)`)

	// Whole-query "#12345" is an implicit order-number lookup. A hash-number
	// embedded in prose carries no such cue and is ignored.
	bareHashRe = regexp.MustCompile(`^#(\d+)$`)

	// Carrier-style tracking codes: long alphanumeric runs, letter-led with
	// digits mixed in (e.g. UPS 1Z...), 18 chars or more.
	trackingRe = regexp.MustCompile(`\b((?:1Z|[A-Za-z])[A-Za-z0-9]{17,})\b`)

	digitRe = regexp.MustCompile(`\d`)
)

// ExtractIdentifiers scans a query for order, invoice, PO and tracking
// identifiers. Bare numbers and years in prose are never treated as
// identifiers; an explicit prefix (or a whole-query "#NNN") is required.
func ExtractIdentifiers(query string) Identifiers {
	var out Identifiers
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return out
	}

	if m := bareHashRe.FindStringSubmatch(trimmed); m != nil {
		out.OrderNumbers = []string{m[1]}
		return out
	}

	out.OrderNumbers = matchAll(orderRe, trimmed)
	out.InvoiceNumbers = matchAll(invoiceRe, trimmed)
	out.PONumbers = matchAll(poRe, trimmed)

	for _, m := range trackingRe.FindAllStringSubmatch(trimmed, -1) {
		token := m[1]
		// Require at least two digits so long words don't qualify.
		if len(digitRe.FindAllString(token, -1)) >= 2 {
			out.TrackingNumbers = appendUnique(out.TrackingNumbers, strings.ToUpper(token))
		}
	}

	return out
}

func matchAll(re *regexp.Regexp, s string) []string {
	var found []string
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		found = appendUnique(found, strings.ToUpper(m[1]))
	}
	return found
}

func appendUnique(existing []string, value string) []string {
	for _, v := range existing {
		if v == value {
			return existing
		}
	}
	return append(existing, value)
}
