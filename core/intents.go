package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	bbolt "go.etcd.io/bbolt"
	"lukechampine.com/blake3"
)

var (
	// ErrIntentRefInvalid indicates the supplied reference exceeds the
	// maximum supported length.
	ErrIntentRefInvalid = errors.New("intent: invalid reference")
	// ErrIntentConsumed indicates the reference has already been processed
	// and the replay was dropped before touching state.
	ErrIntentConsumed = errors.New("intent: already consumed")
)

const maxIntentRefLen = 64

// IntentState represents the reservation status stored for a purchase intent.
type IntentState int

const (
	// IntentStateNew indicates the intent was newly reserved in this request.
	IntentStateNew IntentState = iota
	// IntentStatePending indicates the intent is already being processed.
	IntentStatePending
	// IntentStateProcessed indicates the intent has been finalised.
	IntentStateProcessed
)

// IntentHash derives the canonical replay-protection key for a purchase
// intent. The buyer address scopes the reference, so distinct buyers may reuse
// the same reference without colliding.
func IntentHash(buyer [20]byte, ref string) [32]byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(buyer[:])
	data := []byte(strings.TrimSpace(ref))
	_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)
	return blake3.Sum256(buf.Bytes())
}

// IntentStore persists processed purchase intents so replays can be rejected
// across restarts. Records carry an expiry and are lazily removed once stale.
type IntentStore struct {
	db  *bbolt.DB
	ttl time.Duration
}

var bucketIntents = []byte("intents")

const (
	intentTagPending   = byte(0)
	intentTagProcessed = byte(1)
)

// OpenIntentStore opens (or creates) the persistence database. A non-positive
// ttl keeps processed records forever.
func OpenIntentStore(path string, ttl time.Duration) (*IntentStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIntents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &IntentStore{db: db, ttl: ttl}, nil
}

// Close releases the underlying database handle.
func (s *IntentStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Reserve marks an intent as pending and returns its prior state. Expired
// processed records are removed and treated as new.
func (s *IntentStore) Reserve(hash [32]byte, now time.Time) (IntentState, error) {
	if s == nil || s.db == nil {
		return IntentStatePending, fmt.Errorf("intent store not initialised")
	}
	var state IntentState
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketIntents)
		existing := bucket.Get(hash[:])
		if existing == nil {
			state = IntentStateNew
			return bucket.Put(hash[:], []byte{intentTagPending})
		}
		if existing[0] == intentTagProcessed {
			expiry := decodeIntentExpiry(existing)
			if expiry != 0 && expiry <= uint64(now.Unix()) {
				state = IntentStateNew
				return bucket.Put(hash[:], []byte{intentTagPending})
			}
			state = IntentStateProcessed
			return nil
		}
		state = IntentStatePending
		return nil
	})
	if err != nil {
		return IntentStatePending, err
	}
	return state, nil
}

// MarkProcessed records the intent as completed with its retention expiry.
func (s *IntentStore) MarkProcessed(hash [32]byte, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("intent store not initialised")
	}
	var expiry uint64
	if s.ttl > 0 {
		expiry = uint64(now.Add(s.ttl).Unix())
	}
	value := make([]byte, 9)
	value[0] = intentTagProcessed
	binary.BigEndian.PutUint64(value[1:], expiry)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIntents).Put(hash[:], value)
	})
}

// Release removes a pending reservation, allowing the reference to be retried.
// Processed records are left untouched.
func (s *IntentStore) Release(hash [32]byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("intent store not initialised")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketIntents)
		if val := bucket.Get(hash[:]); len(val) > 0 && val[0] == intentTagPending {
			return bucket.Delete(hash[:])
		}
		return nil
	})
}

func decodeIntentExpiry(value []byte) uint64 {
	if len(value) != 9 {
		return 0
	}
	return binary.BigEndian.Uint64(value[1:])
}
