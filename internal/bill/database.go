package bill

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const billBucket = "bills"

// DB defines the interface for record persistence. Insert performs no
// duplicate check; the engine serializes check-then-insert around it.
type DB interface {
	// Insert assigns a record ID, persists the record and returns the ID.
	Insert(record *BillRecord) (uint64, error)

	// ListByOwner returns the owner's records in insertion order. An owner
	// with no records gets an empty slice, not an error.
	ListByOwner(ownerID string) ([]*BillRecord, error)

	// ListAll returns every record across all owners.
	ListAll() ([]*BillRecord, error)

	// AnnotateRisk sets the risk fields on the first record in the owner's
	// partition matching identity. Returns whether a record was found.
	AnnotateRisk(ownerID string, identity InvoiceIdentity, score int, reason string) (bool, error)

	// Close closes the database.
	Close() error
}

// BoltDB implements DB on a bbolt file. Records live in a single bucket
// keyed by owner ID, a zero byte, and the big-endian record ID, so an owner
// partition is one prefix cursor scan and insertion order falls out of the
// key order. Record IDs come from the bucket sequence and are never reused.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the database file at path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(billBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func recordKey(ownerID string, recordID uint64) []byte {
	key := make([]byte, 0, len(ownerID)+9)
	key = append(key, ownerID...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, recordID)
}

func ownerPrefix(ownerID string) []byte {
	return append([]byte(ownerID), 0)
}

// Insert persists the record inside a single write transaction. The record
// ID and dedup key are assigned here; a failed transaction leaves nothing
// visible to readers.
func (b *BoltDB) Insert(record *BillRecord) (uint64, error) {
	var id uint64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(billBucket))
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("assigning record id: %w", err)
		}
		record.RecordID = seq
		record.DedupKey = DedupKey(record)
		// Risk fields are absent at creation time; they are only ever set
		// through AnnotateRisk.
		record.RiskScore = RiskUnscored
		record.RiskReason = ""

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		if err := bucket.Put(recordKey(record.OwnerID, seq), data); err != nil {
			return err
		}
		id = seq
		return nil
	})
	if err != nil {
		return 0, &StorageError{Op: "insert", Err: err}
	}
	return id, nil
}

// ListByOwner scans the owner's key prefix.
func (b *BoltDB) ListByOwner(ownerID string) ([]*BillRecord, error) {
	records := make([]*BillRecord, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(billBucket)).Cursor()
		prefix := ownerPrefix(ownerID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var record BillRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return records, nil
}

// ListAll returns every record, unfiltered. Intended for administrative
// reads, not per-owner business logic.
func (b *BoltDB) ListAll() ([]*BillRecord, error) {
	records := make([]*BillRecord, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(billBucket)).ForEach(func(k, v []byte) error {
			var record BillRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return records, nil
}

// AnnotateRisk updates the first identity match in the owner's partition.
// Only the risk fields change; vendor, date, amount, category and the dedup
// key are never rewritten.
func (b *BoltDB) AnnotateRisk(ownerID string, identity InvoiceIdentity, score int, reason string) (bool, error) {
	found := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(billBucket))
		c := bucket.Cursor()
		prefix := ownerPrefix(ownerID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var record BillRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			if record.InvoiceNumber != identity.InvoiceNumber || record.Vendor != identity.Vendor {
				continue
			}
			record.RiskScore = score
			record.RiskReason = reason
			data, err := json.Marshal(&record)
			if err != nil {
				return fmt.Errorf("marshaling record: %w", err)
			}
			if err := bucket.Put(k, data); err != nil {
				return err
			}
			found = true
			return nil
		}
		return nil
	})
	if err != nil {
		return false, &StorageError{Op: "annotate", Err: err}
	}
	return found, nil
}

// Close closes the database file.
func (b *BoltDB) Close() error {
	return b.db.Close()
}
