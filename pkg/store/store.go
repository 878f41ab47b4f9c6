// Package store persists terminal state in a bbolt database: scoped
// key/value settings and the append-only history of exchanges with the
// model.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Predefined scopes.
const (
	ScopeSession = "session" // state of the current terminal session
	ScopeHistory = "history" // append-only log of exchanges
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("key not found")

// Store provides scoped key-value storage plus the exchange history.
type Store interface {
	Get(scope, key string) (any, error)
	Set(scope, key string, value any) error
	Delete(scope, key string) error
	List(scope string) (map[string]any, error)
	Append(ex Exchange) (uint64, error)
	Recent(n int) ([]Exchange, error)
	Close() error
}

// Exchange records one request: the user input, the model's raw reply
// and the dispatched result.
type Exchange struct {
	Seq      uint64          `json:"seq"`
	ID       string          `json:"id"`
	Time     time.Time       `json:"time"`
	Input    string          `json:"input"`
	Raw      string          `json:"raw,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Success  bool            `json:"success"`
	Output   string          `json:"output"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// BoltStore is the bbolt-backed Store.
type BoltStore struct {
	db         *bolt.DB
	maxHistory int
}

// Open opens (or creates) the database at path. maxHistory > 0 caps the
// number of exchanges kept; older ones are pruned on Append.
func Open(path string, maxHistory int) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, scope := range []string{ScopeSession, ScopeHistory} {
			if _, err := tx.CreateBucketIfNotExists([]byte(scope)); err != nil {
				return fmt.Errorf("create bucket %s: %w", scope, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &BoltStore{db: db, maxHistory: maxHistory}, nil
}

func (s *BoltStore) Get(scope, key string) (any, error) {
	var result any
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(scope))
		if b == nil {
			return fmt.Errorf("scope not found: %s", scope)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, scope, key)
		}
		return json.Unmarshal(data, &result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BoltStore) Set(scope, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(scope))
		if b == nil {
			return fmt.Errorf("scope not found: %s", scope)
		}
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) Delete(scope, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(scope))
		if b == nil {
			return fmt.Errorf("scope not found: %s", scope)
		}
		return b.Delete([]byte(key))
	})
}

// List returns every key of a scope. History keys are sequence numbers
// and are listed in decimal.
func (s *BoltStore) List(scope string) (map[string]any, error) {
	result := make(map[string]any)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(scope))
		if b == nil {
			return fmt.Errorf("scope not found: %s", scope)
		}
		return b.ForEach(func(k, v []byte) error {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("unmarshal key %s: %w", string(k), err)
			}
			key := string(k)
			if scope == ScopeHistory && len(k) == 8 {
				key = fmt.Sprintf("%d", binary.BigEndian.Uint64(k))
			}
			result[key] = val
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Append stores an exchange under the next sequence number and returns
// that number.
func (s *BoltStore) Append(ex Exchange) (uint64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ScopeHistory))
		var err error
		seq, err = b.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		ex.Seq = seq
		data, err := json.Marshal(ex)
		if err != nil {
			return fmt.Errorf("marshal exchange: %w", err)
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}
		return s.prune(b)
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Recent returns up to n exchanges, oldest first. n <= 0 returns all.
func (s *BoltStore) Recent(n int) ([]Exchange, error) {
	var out []Exchange
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(ScopeHistory)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if n > 0 && len(out) >= n {
				break
			}
			var ex Exchange
			if err := json.Unmarshal(v, &ex); err != nil {
				return fmt.Errorf("unmarshal exchange %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, ex)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) prune(b *bolt.Bucket) error {
	if s.maxHistory <= 0 {
		return nil
	}
	// Stats only sees committed pages, so count through a cursor.
	c := b.Cursor()
	n := 0
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	var stale [][]byte
	for k, _ := c.First(); k != nil && n > s.maxHistory; k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
		n--
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
