package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/expenso/bill-tracker/internal/bill"
)

// Checker defines the interface for policy compliance checking. The verdict
// is advisory text; it never feeds into duplicate detection.
type Checker interface {
	// CheckCompliance audits a bill against the policy corpus and returns
	// a verdict string starting with "PASS:", "DECLINED:" or "UNCLEAR:".
	CheckCompliance(ctx context.Context, record *bill.BillRecord) (string, error)
}

const auditorSystemPrompt = "You are a strict financial auditor."

const auditorPromptTemplate = `You are a strict expense approval auditor. Your ONLY task is to determine if an expense claim passes or is declined based *strictly* on the company policy context provided below.
- Provide a one-sentence answer starting with "PASS:" or "DECLINED:".
- You MUST cite the specific rule from the context that justifies your decision.
- If the context does not contain a specific rule, state: "UNCLEAR: The policy does not contain a specific rule for this expense."

**Company Policy Context:**
%s
**Expense Claim to Verify:**
%s
**Your auditor decision:**`

// OllamaChecker implements Checker using an Ollama chat model over the
// policy corpus.
type OllamaChecker struct {
	baseURL string
	model   string
	corpus  *Corpus
	client  *http.Client
}

// NewOllamaChecker creates an OllamaChecker.
func NewOllamaChecker(baseURL, modelName string, corpus *Corpus) (*OllamaChecker, error) {
	if corpus == nil {
		return nil, fmt.Errorf("policy corpus is required")
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llama3.1:8b"
	}

	return &OllamaChecker{
		baseURL: baseURL,
		model:   modelName,
		corpus:  corpus,
		client:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// CheckCompliance retrieves the most relevant policy chunks for the bill
// and asks the auditor model for a verdict.
func (c *OllamaChecker) CheckCompliance(ctx context.Context, record *bill.BillRecord) (string, error) {
	claim := claimText(record)
	policyContext := strings.Join(c.corpus.Retrieve(claim, 5), "\n\n")
	prompt := fmt.Sprintf(auditorPromptTemplate, policyContext, claim)

	reqBody := chatRequest{
		Model:  c.model,
		Stream: false,
		Messages: []chatMessage{
			{Role: "system", Content: auditorSystemPrompt},
			{Role: "user", Content: prompt},
		},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return strings.TrimSpace(chatResp.Message.Content), nil
}

// claimText flattens a bill into the one-line form the auditor prompt uses.
func claimText(record *bill.BillRecord) string {
	return fmt.Sprintf(
		"Invoice Number: %s. Vendor: %s. Item: %s. Date: %s. Amount: %s. Category: %s.",
		orNA(record.InvoiceNumber), orNA(record.Vendor), orNA(record.Item),
		orNA(record.TransactionDate), orNA(record.Amount), orNA(record.Category),
	)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
