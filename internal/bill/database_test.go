package bill

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltDB", func() {
	var (
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("Insert", func() {
		It("assigns monotonically increasing record IDs starting at 1", func() {
			first := testBill()
			first.OwnerID = "alice"
			id1, err := db.Insert(first)
			Expect(err).NotTo(HaveOccurred())
			Expect(id1).To(Equal(uint64(1)))

			second := testBill()
			second.OwnerID = "bob"
			second.TransactionDate = "02-01-2024"
			id2, err := db.Insert(second)
			Expect(err).NotTo(HaveOccurred())
			Expect(id2).To(Equal(uint64(2)))
		})

		It("derives and persists the dedup key", func() {
			record := testBill()
			record.OwnerID = "alice"
			_, err := db.Insert(record)
			Expect(err).NotTo(HaveOccurred())

			records, err := db.ListByOwner("alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(records[0].DedupKey).To(Equal("acmecorp_01-01-2024_100.00_travel"))
		})

		It("stores new records with the risk fields unset", func() {
			record := testBill()
			record.OwnerID = "alice"
			record.RiskScore = 99
			record.RiskReason = "smuggled in"
			_, err := db.Insert(record)
			Expect(err).NotTo(HaveOccurred())

			records, err := db.ListByOwner("alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(records[0].RiskScore).To(Equal(RiskUnscored))
			Expect(records[0].RiskReason).To(BeEmpty())
		})

		It("survives reopening the database file", func() {
			record := testBill()
			record.OwnerID = "alice"
			_, err := db.Insert(record)
			Expect(err).NotTo(HaveOccurred())
			Expect(db.Close()).To(Succeed())

			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
			records, err := db.ListByOwner("alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
		})

		It("never reuses record IDs across reopens", func() {
			record := testBill()
			record.OwnerID = "alice"
			id1, err := db.Insert(record)
			Expect(err).NotTo(HaveOccurred())
			Expect(db.Close()).To(Succeed())

			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
			next := testBill()
			next.OwnerID = "alice"
			next.TransactionDate = "02-01-2024"
			id2, err := db.Insert(next)
			Expect(err).NotTo(HaveOccurred())
			Expect(id2).To(BeNumerically(">", id1))
		})
	})

	Describe("ListByOwner", func() {
		When("the owner has records", func() {
			BeforeEach(func() {
				for _, date := range []string{"01-01-2024", "02-01-2024", "03-01-2024"} {
					record := testBill()
					record.OwnerID = "alice"
					record.TransactionDate = date
					_, err := db.Insert(record)
					Expect(err).NotTo(HaveOccurred())
				}
				other := testBill()
				other.OwnerID = "bob"
				_, err := db.Insert(other)
				Expect(err).NotTo(HaveOccurred())
			})

			It("returns only that owner's records", func() {
				records, err := db.ListByOwner("alice")
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(3))
				for _, rec := range records {
					Expect(rec.OwnerID).To(Equal("alice"))
				}
			})

			It("returns them in insertion order", func() {
				records, err := db.ListByOwner("alice")
				Expect(err).NotTo(HaveOccurred())
				Expect(records[0].TransactionDate).To(Equal("01-01-2024"))
				Expect(records[1].TransactionDate).To(Equal("02-01-2024"))
				Expect(records[2].TransactionDate).To(Equal("03-01-2024"))
			})
		})

		When("the owner has no records", func() {
			It("returns an empty slice, not an error", func() {
				records, err := db.ListByOwner("nobody")
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(BeEmpty())
			})
		})

		When("an owner ID is a prefix of another", func() {
			It("does not leak the longer owner's records", func() {
				record := testBill()
				record.OwnerID = "alice-2"
				_, err := db.Insert(record)
				Expect(err).NotTo(HaveOccurred())

				records, err := db.ListByOwner("alice")
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(BeEmpty())
			})
		})
	})

	Describe("ListAll", func() {
		It("returns records across all owners", func() {
			for _, owner := range []string{"alice", "bob", "carol"} {
				record := testBill()
				record.OwnerID = owner
				_, err := db.Insert(record)
				Expect(err).NotTo(HaveOccurred())
			}

			records, err := db.ListAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(3))
		})

		It("returns an empty slice on a fresh database", func() {
			records, err := db.ListAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})
	})

	Describe("AnnotateRisk", func() {
		BeforeEach(func() {
			record := testBill()
			record.OwnerID = "alice"
			_, err := db.Insert(record)
			Expect(err).NotTo(HaveOccurred())
		})

		It("sets the risk fields on the matching record", func() {
			found, err := db.AnnotateRisk("alice", InvoiceIdentity{InvoiceNumber: "INV-001", Vendor: "Acme Corp"}, 73, "new vendor for this owner")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())

			records, err := db.ListByOwner("alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(records[0].RiskScore).To(Equal(73))
			Expect(records[0].RiskReason).To(Equal("new vendor for this owner"))
		})

		It("leaves the dedup key and bill fields untouched", func() {
			keyBefore := mustListFirst(db, "alice").DedupKey
			_, err := db.AnnotateRisk("alice", InvoiceIdentity{InvoiceNumber: "INV-001", Vendor: "Acme Corp"}, 73, "x")
			Expect(err).NotTo(HaveOccurred())

			after := mustListFirst(db, "alice")
			Expect(after.DedupKey).To(Equal(keyBefore))
			Expect(after.Amount).To(Equal("100.00"))
			Expect(after.Vendor).To(Equal("Acme Corp"))
		})

		It("returns false when the identity matches nothing", func() {
			found, err := db.AnnotateRisk("alice", InvoiceIdentity{InvoiceNumber: "INV-404", Vendor: "Acme Corp"}, 73, "x")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})

		It("does not match records in another owner's partition", func() {
			found, err := db.AnnotateRisk("bob", InvoiceIdentity{InvoiceNumber: "INV-001", Vendor: "Acme Corp"}, 73, "x")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})
	})

	Describe("Close", func() {
		It("should not return an error", func() {
			Expect(db.Close()).To(Succeed())
			db = nil
		})
	})
})

func mustListFirst(db *BoltDB, owner string) *BillRecord {
	GinkgoHelper()
	records, err := db.ListByOwner(owner)
	Expect(err).NotTo(HaveOccurred())
	Expect(records).NotTo(BeEmpty())
	return records[0]
}
