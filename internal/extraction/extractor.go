package extraction

// InvoiceFields contains the structured fields extracted from an invoice
// image. Every field is textual; amounts stay as extracted so downstream
// key derivation sees the original formatting.
type InvoiceFields struct {
	InvoiceNumber    string `json:"invoice_number"`
	Vendor           string `json:"vendor"`
	Item             string `json:"item"`
	Date             string `json:"date"` // DD-MM-YYYY
	Amount           string `json:"amount"`
	ShortDescription string `json:"short_description"`
}

// Extractor defines the interface for vision-model invoice extraction.
type Extractor interface {
	// ExtractInvoice analyzes an invoice image/PDF and extracts its fields.
	// Missing fields come back with placeholder defaults, never empty.
	ExtractInvoice(imageData []byte, contentType string) (*InvoiceFields, error)
	// Close closes the extractor and releases resources.
	Close() error
}

// invoiceScanPrompt is the shared prompt used by all model providers.
const invoiceScanPrompt = `You are an assistant that extracts structured fields from invoices. Carefully read all text in the image.

Return only the following fields in JSON format:
{
  "invoice_number": "...",
  "vendor": "...",
  "item": "max 4 words",
  "date": "DD-MM-YYYY",
  "amount": "...",
  "short_description": "concise 2-5 word expense category"
}

Important:
- The vendor is the business issuing the invoice, usually the largest text or header
- The date must be in DD-MM-YYYY format
- The amount is the final total or amount due, digits and decimal point only
- Respond with JSON ONLY. No prose, no markdown code blocks`
