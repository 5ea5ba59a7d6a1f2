package risk

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

// Scorer defines the interface for out-of-band risk scoring. The score is
// stored via the engine's annotation path and never influences duplicate
// detection.
type Scorer interface {
	// ScoreBill rates a target bill against the owner's history and returns
	// a score in [0,100] with a short reason.
	ScoreBill(ctx context.Context, target *bill.BillRecord, history []*bill.BillRecord) (int, string, error)
}

const riskPromptTemplate = `You are a fraud analyst rating a single expense claim.

Rate the risk of the target claim on a scale of 0 (routine) to 100 (almost certainly fraudulent), considering the submitter's claim history below: unusual amounts for the vendor, rapid resubmissions, round-number amounts, category drift.

**Claim history:**
%s
**Target claim:**
%s

Return ONLY valid JSON in this exact format:
{"risk_score": 0, "reason": "one short sentence"}`

// OllamaScorer implements Scorer using an Ollama chat model.
type OllamaScorer struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaScorer creates an OllamaScorer.
func NewOllamaScorer(baseURL, modelName string) (*OllamaScorer, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llama3.1:8b"
	}

	return &OllamaScorer{
		baseURL: baseURL,
		model:   modelName,
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

// ScoreBill asks the model for a risk verdict on the target claim.
func (s *OllamaScorer) ScoreBill(ctx context.Context, target *bill.BillRecord, history []*bill.BillRecord) (int, string, error) {
	prompt := fmt.Sprintf(riskPromptTemplate, historyText(history), billLine(target))

	reqBody := chatRequest{
		Model:  s.model,
		Stream: false,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return 0, "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", s.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return 0, "", fmt.Errorf("decoding response: %w", err)
	}

	return parseRiskJSON(chatResp.Message.Content)
}

// parseRiskJSON pulls the score and reason out of the model response,
// tolerating markdown fences and surrounding prose. Scores are clamped to
// [0,100].
func parseRiskJSON(text string) (int, string, error) {
	text = strings.TrimSpace(text)
	startIdx := strings.Index(text, "{")
	endIdx := strings.LastIndex(text, "}")
	if startIdx == -1 || endIdx < startIdx {
		return 0, "", fmt.Errorf("no JSON object found in response")
	}

	var verdict struct {
		RiskScore int    `json:"risk_score"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(text[startIdx:endIdx+1]), &verdict); err != nil {
		return 0, "", fmt.Errorf("unmarshaling json: %w", err)
	}

	score := verdict.RiskScore
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, strings.TrimSpace(verdict.Reason), nil
}

func historyText(history []*bill.BillRecord) string {
	if len(history) == 0 {
		return "(no prior claims)\n"
	}
	var b strings.Builder
	for _, rec := range history {
		b.WriteString(billLine(rec))
		b.WriteString("\n")
	}
	return b.String()
}

func billLine(rec *bill.BillRecord) string {
	return fmt.Sprintf("Vendor: %s. Date: %s. Amount: %s. Category: %s.",
		rec.Vendor, rec.TransactionDate, rec.Amount, rec.Category)
}
