// Package parser turns a raw OCR transcript into a structured invoice.
// Every function here is pure: same text and policy in, same invoice
// out. Extraction is heuristic and best-effort; lines that don't look
// like priced items are skipped, never reported as errors.
package parser

// DefaultMerchantName is used when the transcript has no usable lines.
const DefaultMerchantName = "Unknown"

// TotalPolicy selects how the invoice total is derived from the
// extracted line items. The two policies disagree materially on real
// receipts, so the choice is explicit configuration, never implied.
type TotalPolicy string

const (
	// PolicySum treats every extracted line as a purchase contributing
	// to the bill: total = sum of item prices.
	PolicySum TotalPolicy = "sum"
	// PolicyMax assumes the grand total is the largest printed amount:
	// total = max of item prices.
	PolicyMax TotalPolicy = "max"
)

// ParsePolicy maps a config string to a TotalPolicy, defaulting to sum.
func ParsePolicy(s string) (TotalPolicy, bool) {
	switch s {
	case string(PolicySum), "":
		return PolicySum, true
	case string(PolicyMax):
		return PolicyMax, true
	}
	return PolicySum, false
}

// LineItem is one extracted (name, price) pair. Price is in whole
// currency units, always > 0 for items produced by ExtractItems.
type LineItem struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// Invoice is the assembled parse result. It is a plain value; callers
// hand it to the persistence layer as-is.
type Invoice struct {
	MerchantName string     `json:"merchant_name"`
	Date         string     `json:"date"`
	Items        []LineItem `json:"items"`
	TotalAmount  int64      `json:"total_amount"`
	RawText      string     `json:"raw_text"`
}

// Parser holds the knobs the pipeline needs. The zero value is not
// usable; construct with New.
type Parser struct {
	policy          TotalPolicy
	merchantDefault string
}

func New(policy TotalPolicy) *Parser {
	if policy != PolicySum && policy != PolicyMax {
		policy = PolicySum
	}
	return &Parser{policy: policy, merchantDefault: DefaultMerchantName}
}

func (p *Parser) Policy() TotalPolicy { return p.policy }

// Parse runs the whole pipeline: segment, then date and item
// extraction over the same lines, then total resolution and assembly.
// It is total over its input: any string, including empty or binary
// garbage, maps to a well-defined Invoice.
func (p *Parser) Parse(raw string) Invoice {
	inv := Invoice{
		MerchantName: p.merchantDefault,
		Items:        []LineItem{},
		RawText:      raw,
	}

	lines := SegmentLines(raw)
	if len(lines) == 0 {
		return inv
	}

	inv.MerchantName = lines[0]
	inv.Date = ExtractDate(raw)
	inv.Items = ExtractItems(lines)
	inv.TotalAmount = ResolveTotal(inv.Items, p.policy)
	return inv
}

// ResolveTotal derives the invoice total from the extracted items
// under the given policy. Empty input yields 0 under both policies.
func ResolveTotal(items []LineItem, policy TotalPolicy) int64 {
	var total int64
	switch policy {
	case PolicyMax:
		for _, it := range items {
			if it.Price > total {
				total = it.Price
			}
		}
	default:
		for _, it := range items {
			total += it.Price
		}
	}
	return total
}
