package receipt

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const ownersBucketName = "owners"

// Fields is a partial update applied to a stored record. Keys are the
// record's JSON field names.
type Fields map[string]any

// DocumentStore defines durable storage for receipt records keyed by
// (owner id, receipt id). Put merges the given fields into any existing
// record, so re-running a stage with identical data leaves exactly one
// record.
type DocumentStore interface {
	// Put merges fields into the record for (ownerID, receiptID),
	// creating it if absent
	Put(ownerID, receiptID string, fields Fields) error

	// Get retrieves a record scoped to ownerID
	Get(ownerID, receiptID string) (*Record, error)

	// List returns all records belonging to ownerID
	List(ownerID string) ([]*Record, error)

	// Delete removes a record
	Delete(ownerID, receiptID string) error

	// Close closes the store
	Close() error
}

// BoltStore implements DocumentStore using BoltDB with one nested bucket
// per owner, so concurrent writes for distinct receipts never interfere.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) a BoltDB-backed document store
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(ownersBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Put merges fields into the stored record. The status field is monotonic:
// once a record is completed it is never moved back to processing.
func (b *BoltStore) Put(ownerID, receiptID string, fields Fields) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		owner, err := tx.Bucket([]byte(ownersBucketName)).CreateBucketIfNotExists([]byte(ownerID))
		if err != nil {
			return fmt.Errorf("creating owner bucket: %w", err)
		}

		merged := make(map[string]any)
		if data := owner.Get([]byte(receiptID)); data != nil {
			if err := json.Unmarshal(data, &merged); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
		}
		for k, v := range fields {
			if k == "status" && merged["status"] == string(StatusCompleted) && v == string(StatusProcessing) {
				continue
			}
			merged[k] = v
		}

		data, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		return owner.Put([]byte(receiptID), data)
	})
}

// Get retrieves a record by (owner id, receipt id)
func (b *BoltStore) Get(ownerID, receiptID string) (*Record, error) {
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		owner := tx.Bucket([]byte(ownersBucketName)).Bucket([]byte(ownerID))
		if owner == nil {
			return fmt.Errorf("receipt not found: %s", receiptID)
		}
		data := owner.Get([]byte(receiptID))
		if data == nil {
			return fmt.Errorf("receipt not found: %s", receiptID)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// List returns all records for an owner
func (b *BoltStore) List(ownerID string) ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		owner := tx.Bucket([]byte(ownersBucketName)).Bucket([]byte(ownerID))
		if owner == nil {
			return nil
		}
		return owner.ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Delete removes a record
func (b *BoltStore) Delete(ownerID, receiptID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		owner := tx.Bucket([]byte(ownersBucketName)).Bucket([]byte(ownerID))
		if owner == nil {
			return nil
		}
		return owner.Delete([]byte(receiptID))
	})
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
