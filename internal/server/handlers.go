package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/expenso/bill-tracker/internal/bill"
)

// maxUploadSize caps invoice uploads; phone photos run large.
const maxUploadSize = int64(50 << 20) // 50MB

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// billError maps the engine's error taxonomy onto HTTP statuses and writes
// the response. DuplicateError is the normal negative path, not a failure.
func billError(w http.ResponseWriter, err error) {
	var dupErr *bill.DuplicateError
	if errors.As(err, &dupErr) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"is_duplicate":      true,
			"reason":            dupErr.Reason,
			"matched_record_id": dupErr.MatchedRecordID,
			"error":             "This bill is a duplicate and cannot be saved.",
		})
		return
	}

	var valErr *bill.ValidationError
	if errors.As(err, &valErr) {
		writeError(w, http.StatusUnprocessableEntity, valErr.Error())
		return
	}

	slog.Error("Bill operation failed", "error", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func ownerOrDefault(owner string) string {
	if strings.TrimSpace(owner) == "" {
		return defaultOwner
	}
	return owner
}

// handleProcessInvoice runs an uploaded document through the extraction
// collaborator and returns the extracted fields. Nothing is persisted here.
func (s *Server) handleProcessInvoice(w http.ResponseWriter, r *http.Request) {
	if s.extractor == nil {
		writeError(w, http.StatusServiceUnavailable, "Extraction is not configured")
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		writeError(w, http.StatusBadRequest, "File is too large. Maximum size is 50MB.")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFromExt(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	fields, err := s.extractor.ExtractInvoice(data, contentType)
	if err != nil {
		slog.Error("Failed to extract invoice",
			"filename", header.Filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Extraction failed: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    fields,
	})
}

func contentTypeFromExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleCheckBill is the dry-run duplicate check: classify without saving.
func (s *Server) handleCheckBill(w http.ResponseWriter, r *http.Request) {
	var record bill.BillRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	owner := ownerOrDefault(record.OwnerID)
	match, err := s.service.Check(owner, &record)
	if err != nil {
		billError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, match)
}

// handleAcceptBill checks and persists a bill in one engine call.
func (s *Server) handleAcceptBill(w http.ResponseWriter, r *http.Request) {
	var record bill.BillRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	owner := ownerOrDefault(record.OwnerID)
	id, err := s.service.Accept(owner, &record)
	if err != nil {
		billError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":   true,
		"record_id": id,
		"record":    &record,
	})
}

// handleListBills lists one owner's bills.
func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	owner := ownerOrDefault(r.URL.Query().Get("owner"))
	records, err := s.service.ListBills(owner)
	if err != nil {
		billError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"bills":   records,
		"count":   len(records),
	})
}

// handleListAllBills lists every stored bill across owners.
func (s *Server) handleListAllBills(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListAllBills()
	if err != nil {
		billError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"bills":   records,
		"count":   len(records),
	})
}

type annotateRequest struct {
	OwnerID       string `json:"owner_id"`
	InvoiceNumber string `json:"invoice_number"`
	Vendor        string `json:"vendor"`
	RiskScore     *int   `json:"risk_score,omitempty"`
	RiskReason    string `json:"risk_reason,omitempty"`
}

// handleAnnotateRisk scores a stored bill and attaches the verdict. When
// the request carries an explicit score it is used as-is; otherwise the
// risk collaborator rates the bill against the owner's history.
func (s *Server) handleAnnotateRisk(w http.ResponseWriter, r *http.Request) {
	var req annotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	owner := ownerOrDefault(req.OwnerID)
	identity := bill.InvoiceIdentity{InvoiceNumber: req.InvoiceNumber, Vendor: req.Vendor}

	score := 0
	reason := req.RiskReason
	if req.RiskScore != nil {
		score = *req.RiskScore
	} else {
		if s.scorer == nil {
			writeError(w, http.StatusServiceUnavailable, "Risk scoring is not configured")
			return
		}
		history, err := s.service.ListBills(owner)
		if err != nil {
			billError(w, err)
			return
		}
		target := findByIdentity(history, identity)
		if target == nil {
			writeJSON(w, http.StatusOK, map[string]any{"annotated": false})
			return
		}
		score, reason, err = s.scorer.ScoreBill(r.Context(), target, history)
		if err != nil {
			slog.Error("Risk scoring failed", "owner", owner, "error", err)
			writeError(w, http.StatusBadGateway, "Risk scoring failed")
			return
		}
	}

	annotated, err := s.service.AnnotateRisk(owner, identity, score, reason)
	if err != nil {
		billError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"annotated":   annotated,
		"risk_score":  score,
		"risk_reason": reason,
	})
}

func findByIdentity(records []*bill.BillRecord, identity bill.InvoiceIdentity) *bill.BillRecord {
	for _, rec := range records {
		if rec.InvoiceNumber == identity.InvoiceNumber && rec.Vendor == identity.Vendor {
			return rec
		}
	}
	return nil
}

// handlePolicyCheck returns the advisory compliance verdict for a bill.
func (s *Server) handlePolicyCheck(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeError(w, http.StatusServiceUnavailable, "Policy checking is not configured")
		return
	}

	var record bill.BillRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	decision, err := s.checker.CheckCompliance(r.Context(), &record)
	if err != nil {
		slog.Error("Policy check failed", "error", err)
		writeError(w, http.StatusBadGateway, "Policy check failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"decision": decision,
	})
}
