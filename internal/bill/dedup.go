package bill

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
)

const (
	// DefaultAmountTolerance is the absolute amount difference below which
	// the fuzzy rule still considers two bills the same. Deliberately crude;
	// kept configurable because it does not generalize to large invoices.
	DefaultAmountTolerance = 1.0

	// vendorSimilarityThreshold is the token-sort ratio a vendor pair must
	// exceed (strictly) for the fuzzy rule to fire.
	vendorSimilarityThreshold = 95
)

// Match is the outcome of a duplicate check.
type Match struct {
	IsDuplicate     bool   `json:"is_duplicate"`
	Reason          string `json:"reason,omitempty"`
	MatchedRecordID uint64 `json:"matched_record_id,omitempty"`
}

// DedupKey derives the exact-match key for a record: vendor lowercased and
// stripped to alphanumerics, then date, amount and category joined as given.
// The key is intentionally sensitive to amount and date formatting; drift
// like "100" vs "100.00" falls through to the fuzzy rule.
func DedupKey(r *BillRecord) string {
	var vendor strings.Builder
	for _, c := range r.Vendor {
		if unicode.IsLetter(c) || unicode.IsDigit(c) {
			vendor.WriteRune(unicode.ToLower(c))
		}
	}
	return fmt.Sprintf("%s_%s_%s_%s", vendor.String(), r.TransactionDate, r.Amount, r.Category)
}

// Detector classifies candidate bills against an owner partition.
type Detector struct {
	amountTolerance float64
}

// NewDetector creates a Detector. A non-positive tolerance falls back to
// DefaultAmountTolerance.
func NewDetector(amountTolerance float64) *Detector {
	if amountTolerance <= 0 {
		amountTolerance = DefaultAmountTolerance
	}
	return &Detector{amountTolerance: amountTolerance}
}

// Classify decides whether candidate duplicates any record in existing.
// Exact key matches win over fuzzy matches; the fuzzy rule requires vendor
// similarity above the threshold together with an exactly equal date and
// category and a near-equal amount. Returns a ValidationError if the
// candidate is missing a field the predicate needs.
func (d *Detector) Classify(candidate *BillRecord, existing []*BillRecord) (*Match, error) {
	amount, err := validateCandidate(candidate)
	if err != nil {
		return nil, err
	}

	key := DedupKey(candidate)
	for _, rec := range existing {
		if rec.DedupKey == key {
			return &Match{
				IsDuplicate:     true,
				Reason:          "Exact duplicate",
				MatchedRecordID: rec.RecordID,
			}, nil
		}
	}

	for _, rec := range existing {
		score := fuzzy.TokenSortRatio(candidate.Vendor, rec.Vendor)
		if score <= vendorSimilarityThreshold {
			continue
		}
		if candidate.TransactionDate != rec.TransactionDate || candidate.Category != rec.Category {
			continue
		}
		stored, err := parseAmount(rec.Amount)
		if err != nil {
			continue
		}
		if math.Abs(amount-stored) >= d.amountTolerance {
			continue
		}
		return &Match{
			IsDuplicate:     true,
			Reason:          fmt.Sprintf("Fuzzy match %d%%", score),
			MatchedRecordID: rec.RecordID,
		}, nil
	}

	return &Match{}, nil
}

// validateCandidate checks the four fields duplicate detection depends on.
// No defaulting happens here; placeholder values are the extraction layer's
// business and arrive already applied.
func validateCandidate(r *BillRecord) (float64, error) {
	switch {
	case r.Vendor == "":
		return 0, &ValidationError{Field: "vendor"}
	case r.TransactionDate == "":
		return 0, &ValidationError{Field: "date"}
	case r.Amount == "":
		return 0, &ValidationError{Field: "amount"}
	case r.Category == "":
		return 0, &ValidationError{Field: "category"}
	}

	amount, err := parseAmount(r.Amount)
	if err != nil {
		return 0, &ValidationError{Field: "amount", Detail: fmt.Sprintf("not a decimal number: %q", r.Amount)}
	}
	if amount < 0 {
		return 0, &ValidationError{Field: "amount", Detail: "must not be negative"}
	}
	return amount, nil
}

func parseAmount(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
