package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
)

// fieldDefaults are the placeholder values applied when the model omits or
// blanks a field. Defaulting happens here so the dedup engine downstream
// can treat empty fields as a hard validation failure.
var fieldDefaults = InvoiceFields{
	InvoiceNumber:    "N/A",
	Vendor:           "Unknown",
	Item:             "N/A",
	Date:             "N/A",
	Amount:           "0.00",
	ShortDescription: "General",
}

// parseInvoiceJSON parses the model's response into InvoiceFields. Models
// wrap JSON in markdown fences or prose often enough that we cut out the
// outermost object before unmarshaling.
func parseInvoiceJSON(text string) (*InvoiceFields, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var fields InvoiceFields
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	applyDefaults(&fields)
	return &fields, nil
}

func applyDefaults(fields *InvoiceFields) {
	if strings.TrimSpace(fields.InvoiceNumber) == "" {
		fields.InvoiceNumber = fieldDefaults.InvoiceNumber
	}
	if strings.TrimSpace(fields.Vendor) == "" {
		fields.Vendor = fieldDefaults.Vendor
	}
	if strings.TrimSpace(fields.Item) == "" {
		fields.Item = fieldDefaults.Item
	}
	if strings.TrimSpace(fields.Date) == "" {
		fields.Date = fieldDefaults.Date
	}
	if strings.TrimSpace(fields.Amount) == "" {
		fields.Amount = fieldDefaults.Amount
	}
	if strings.TrimSpace(fields.ShortDescription) == "" {
		fields.ShortDescription = fieldDefaults.ShortDescription
	}
}
