package bill

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// stored builds an existing-record fixture with its dedup key assigned, the
// way the store persists them.
func stored(id uint64, vendor, date, amount, category string) *BillRecord {
	rec := &BillRecord{
		RecordID:        id,
		OwnerID:         "alice",
		Vendor:          vendor,
		TransactionDate: date,
		Amount:          amount,
		Category:        category,
		RiskScore:       RiskUnscored,
	}
	rec.DedupKey = DedupKey(rec)
	return rec
}

var _ = Describe("DedupKey", func() {
	It("is deterministic", func() {
		Expect(DedupKey(testBill())).To(Equal(DedupKey(testBill())))
	})

	It("lowercases the vendor and strips non-alphanumerics", func() {
		rec := testBill()
		rec.Vendor = "ACME Corp. & Sons, Ltd."
		Expect(DedupKey(rec)).To(Equal("acmecorpsonsltd_01-01-2024_100.00_travel"))
	})

	It("keeps the amount exactly as given", func() {
		a := testBill()
		b := testBill()
		b.Amount = "100"
		Expect(DedupKey(a)).NotTo(Equal(DedupKey(b)))
	})

	It("ignores fields outside vendor, date, amount and category", func() {
		a := testBill()
		b := testBill()
		b.InvoiceNumber = "INV-999"
		b.Item = "Something else"
		b.OwnerID = "bob"
		Expect(DedupKey(a)).To(Equal(DedupKey(b)))
	})
})

var _ = Describe("Detector", func() {
	var (
		detector *Detector
		existing []*BillRecord
	)

	BeforeEach(func() {
		detector = NewDetector(DefaultAmountTolerance)
		existing = []*BillRecord{
			stored(1, "Acme Corp", "01-01-2024", "100.00", "travel"),
			stored(2, "Globex", "05-01-2024", "250.00", "meals"),
		}
	})

	Describe("Classify", func() {
		When("the candidate matches a stored dedup key", func() {
			It("reports an exact duplicate", func() {
				match, err := detector.Classify(testBill(), existing)
				Expect(err).NotTo(HaveOccurred())
				Expect(match.IsDuplicate).To(BeTrue())
				Expect(match.Reason).To(Equal("Exact duplicate"))
				Expect(match.MatchedRecordID).To(Equal(uint64(1)))
			})

			It("treats vendor punctuation and case drift as the same key", func() {
				candidate := testBill()
				candidate.Vendor = "ACME CORP."
				match, err := detector.Classify(candidate, existing)
				Expect(err).NotTo(HaveOccurred())
				Expect(match.Reason).To(Equal("Exact duplicate"))
			})
		})

		When("only the amount formatting drifted", func() {
			It("falls through to the fuzzy rule", func() {
				candidate := testBill()
				candidate.Amount = "100"
				match, err := detector.Classify(candidate, existing)
				Expect(err).NotTo(HaveOccurred())
				Expect(match.IsDuplicate).To(BeTrue())
				Expect(match.Reason).To(Equal("Fuzzy match 100%"))
				Expect(match.MatchedRecordID).To(Equal(uint64(1)))
			})
		})

		When("the vendor is a noisy rescan of a stored vendor", func() {
			It("reports a fuzzy duplicate with the similarity score", func() {
				candidate := testBill()
				candidate.Vendor = "CORP ACME" // word order is irrelevant to the metric
				candidate.Amount = "100.50"
				match, err := detector.Classify(candidate, existing)
				Expect(err).NotTo(HaveOccurred())
				Expect(match.IsDuplicate).To(BeTrue())
				Expect(match.Reason).To(Equal("Fuzzy match 100%"))
			})
		})

		When("the vendor similarity is below the threshold", func() {
			It("does not report a duplicate", func() {
				candidate := testBill()
				candidate.Vendor = "Acme Corporation"
				candidate.Amount = "100.50"
				match, err := detector.Classify(candidate, existing)
				Expect(err).NotTo(HaveOccurred())
				Expect(match.IsDuplicate).To(BeFalse())
			})
		})

		When("the vendor similarity sits at the threshold boundary", func() {
			// Single-token vendors give exact token-sort ratios: one edit in
			// 20 characters is 2*19/40 = 95, one edit in 25 is 2*24/50 = 96.
			It("is not a duplicate at similarity exactly 95", func() {
				partition := []*BillRecord{
					stored(1, "abcdefghijklmnopqrst", "01-01-2024", "100.00", "travel"),
				}
				candidate := testBill()
				candidate.Vendor = "abcdefghijklmnopqrsu"
				candidate.Amount = "100.50"
				match, err := detector.Classify(candidate, partition)
				Expect(err).NotTo(HaveOccurred())
				Expect(match.IsDuplicate).To(BeFalse())
			})

			It("is a duplicate at similarity 96 with equal date and category", func() {
				partition := []*BillRecord{
					stored(1, "abcdefghijklmnopqrstuvwxy", "01-01-2024", "100.00", "travel"),
				}
				candidate := testBill()
				candidate.Vendor = "abcdefghijklmnopqrstuvwxz"
				candidate.Amount = "100.50"
				match, err := detector.Classify(candidate, partition)
				Expect(err).NotTo(HaveOccurred())
				Expect(match.IsDuplicate).To(BeTrue())
				Expect(match.Reason).To(Equal("Fuzzy match 96%"))
				Expect(match.MatchedRecordID).To(Equal(uint64(1)))
			})
		})

		When("the amount difference sits at the tolerance boundary", func() {
			It("is a duplicate just below the tolerance", func() {
				candidate := testBill()
				candidate.Amount = "100.99"
				match, err := detector.Classify(candidate, existing)
				Expect(err).NotTo(HaveOccurred())
				Expect(match.IsDuplicate).To(BeTrue())
			})

			It("is not a duplicate at exactly the tolerance", func() {
				candidate := testBill()
				candidate.Amount = "101.00"
				match, err := detector.Classify(candidate, existing)
				Expect(err).NotTo(HaveOccurred())
				Expect(match.IsDuplicate).To(BeFalse())
			})
		})

		When("the dates differ", func() {
			It("does not report a duplicate", func() {
				candidate := testBill()
				candidate.TransactionDate = "02-01-2024"
				match, err := detector.Classify(candidate, existing)
				Expect(err).NotTo(HaveOccurred())
				Expect(match.IsDuplicate).To(BeFalse())
			})
		})

		When("the categories differ", func() {
			It("does not report a duplicate", func() {
				candidate := testBill()
				candidate.Amount = "100.50"
				candidate.Category = "office"
				match, err := detector.Classify(candidate, existing)
				Expect(err).NotTo(HaveOccurred())
				Expect(match.IsDuplicate).To(BeFalse())
			})
		})

		When("the partition is empty", func() {
			It("accepts the candidate", func() {
				match, err := detector.Classify(testBill(), nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(match.IsDuplicate).To(BeFalse())
			})
		})

		When("a required field is missing", func() {
			DescribeTable("returns a ValidationError naming the field",
				func(mutate func(*BillRecord), field string) {
					candidate := testBill()
					mutate(candidate)
					_, err := detector.Classify(candidate, existing)
					var valErr *ValidationError
					Expect(errors.As(err, &valErr)).To(BeTrue())
					Expect(valErr.Field).To(Equal(field))
				},
				Entry("vendor", func(r *BillRecord) { r.Vendor = "" }, "vendor"),
				Entry("date", func(r *BillRecord) { r.TransactionDate = "" }, "date"),
				Entry("amount", func(r *BillRecord) { r.Amount = "" }, "amount"),
				Entry("category", func(r *BillRecord) { r.Category = "" }, "category"),
			)
		})

		When("the amount is not a number", func() {
			It("returns a ValidationError", func() {
				candidate := testBill()
				candidate.Amount = "one hundred"
				_, err := detector.Classify(candidate, existing)
				var valErr *ValidationError
				Expect(errors.As(err, &valErr)).To(BeTrue())
				Expect(valErr.Field).To(Equal("amount"))
			})
		})

		When("the amount is negative", func() {
			It("returns a ValidationError", func() {
				candidate := testBill()
				candidate.Amount = "-5.00"
				_, err := detector.Classify(candidate, existing)
				var valErr *ValidationError
				Expect(errors.As(err, &valErr)).To(BeTrue())
			})
		})
	})

	Describe("configurable tolerance", func() {
		It("widens the fuzzy amount window", func() {
			loose := NewDetector(10.0)
			candidate := testBill()
			candidate.Amount = "105.00"
			match, err := loose.Classify(candidate, existing)
			Expect(err).NotTo(HaveOccurred())
			Expect(match.IsDuplicate).To(BeTrue())
		})

		It("falls back to the default for non-positive values", func() {
			fallback := NewDetector(0)
			candidate := testBill()
			candidate.Amount = "100.50"
			match, err := fallback.Classify(candidate, existing)
			Expect(err).NotTo(HaveOccurred())
			Expect(match.IsDuplicate).To(BeTrue())
		})
	})
})
