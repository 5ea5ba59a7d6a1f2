package bill

import (
	"log/slog"
	"sync"
)

// Service is the deduplication engine: it classifies candidate bills
// against the owner's stored records and persists the ones that clear the
// check. Check-then-insert is serialized per owner so two concurrent
// submissions of the same bill cannot both pass the check.
type Service struct {
	db       DB
	detector *Detector

	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

// NewService creates a Service with the default amount tolerance.
func NewService(db DB) *Service {
	return NewServiceWithDetector(db, NewDetector(DefaultAmountTolerance))
}

// NewServiceWithDetector creates a Service with a custom detector.
func NewServiceWithDetector(db DB, detector *Detector) *Service {
	return &Service{
		db:       db,
		detector: detector,
		owners:   make(map[string]*sync.Mutex),
	}
}

// ownerLock returns the mutex guarding one owner partition, creating it on
// first use. Locks are never released back; the map grows with the number
// of distinct owners, which matches the store itself.
func (s *Service) ownerLock(ownerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.owners[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		s.owners[ownerID] = lock
	}
	return lock
}

// Check classifies candidate against the owner's partition without
// persisting anything. The result may be stale by one in-flight Accept for
// the same owner.
func (s *Service) Check(ownerID string, candidate *BillRecord) (*Match, error) {
	existing, err := s.db.ListByOwner(ownerID)
	if err != nil {
		return nil, err
	}
	return s.detector.Classify(candidate, existing)
}

// Accept runs the duplicate check and, if it passes, persists the candidate
// with a fresh record ID. A positive match is returned as a DuplicateError.
func (s *Service) Accept(ownerID string, candidate *BillRecord) (uint64, error) {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.db.ListByOwner(ownerID)
	if err != nil {
		return 0, err
	}

	match, err := s.detector.Classify(candidate, existing)
	if err != nil {
		return 0, err
	}
	if match.IsDuplicate {
		slog.Info("Rejecting duplicate bill",
			"owner", ownerID,
			"vendor", candidate.Vendor,
			"reason", match.Reason,
			"matched_record_id", match.MatchedRecordID,
		)
		return 0, &DuplicateError{Reason: match.Reason, MatchedRecordID: match.MatchedRecordID}
	}

	candidate.OwnerID = ownerID
	id, err := s.db.Insert(candidate)
	if err != nil {
		return 0, err
	}

	slog.Info("Accepted bill", "owner", ownerID, "vendor", candidate.Vendor, "record_id", id)
	return id, nil
}

// ListBills returns the owner's records in insertion order.
func (s *Service) ListBills(ownerID string) ([]*BillRecord, error) {
	return s.db.ListByOwner(ownerID)
}

// ListAllBills returns every stored record.
func (s *Service) ListAllBills() ([]*BillRecord, error) {
	return s.db.ListAll()
}

// AnnotateRisk sets the risk fields on the first record matching identity
// in the owner's partition. A false return means nothing matched; that is
// not an error.
func (s *Service) AnnotateRisk(ownerID string, identity InvoiceIdentity, score int, reason string) (bool, error) {
	if score < 0 || score > 100 {
		return false, &ValidationError{Field: "risk_score", Detail: "must be between 0 and 100"}
	}
	return s.db.AnnotateRisk(ownerID, identity, score, reason)
}
