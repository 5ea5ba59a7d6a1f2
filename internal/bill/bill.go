package bill

// RiskUnscored is the sentinel value for a record that has not been risk
// scored yet.
const RiskUnscored = -1

// BillRecord represents an accepted expense bill. Vendor, date, amount and
// category are stored exactly as extracted upstream; this package never
// rewrites them after acceptance.
type BillRecord struct {
	RecordID        uint64 `json:"record_id"`
	OwnerID         string `json:"owner_id"`
	InvoiceNumber   string `json:"invoice_number"`
	Vendor          string `json:"vendor"`
	Item            string `json:"item"`
	TransactionDate string `json:"date"`   // DD-MM-YYYY text, not calendar-validated
	Amount          string `json:"amount"` // decimal text as extracted
	Category        string `json:"category"`
	DedupKey        string `json:"dedup_key"`
	RiskScore       int    `json:"risk_score"`
	RiskReason      string `json:"risk_reason,omitempty"`
}

// InvoiceIdentity identifies a stored record for post-hoc risk annotation.
// It is matched within one owner partition only.
type InvoiceIdentity struct {
	InvoiceNumber string `json:"invoice_number"`
	Vendor        string `json:"vendor"`
}
