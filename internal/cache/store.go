package cache

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/entity"
)

const resultsBucket = "extraction_results"

// Store memoizes successful extractions by fingerprint. A nil *BoltStore
// is a valid disabled cache: every lookup misses and every store is a
// no-op, so callers never branch on the enabled flag themselves.
type Store interface {
	Lookup(fingerprint string) ([]entity.LineItem, bool, error)
	Store(fingerprint string, items []entity.LineItem) error
	Close() error
}

type cacheEntry struct {
	Items    []entity.LineItem `json:"items"`
	StoredAt time.Time         `json:"stored_at"`
}

// BoltStore keeps entries in a single-file bbolt database. Entries never
// expire: a fingerprint embeds the prompt version, so a prompt bump is the
// invalidation mechanism.
type BoltStore struct {
	db  *bbolt.DB
	log *zap.Logger
}

func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, eris.Wrap(err, "open cache db")
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(resultsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "create cache bucket")
	}
	return &BoltStore{db: db, log: logger}, nil
}

func (s *BoltStore) Lookup(fingerprint string) ([]entity.LineItem, bool, error) {
	if s == nil {
		return nil, false, nil
	}

	var entry cacheEntry
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(resultsBucket)).Get([]byte(fingerprint))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return eris.Wrap(err, "unmarshal cache entry")
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if entry.Items == nil {
		entry.Items = []entity.LineItem{}
	}
	s.log.Debug("cache.hit", zap.String("fingerprint", fingerprint))
	return entry.Items, true, nil
}

// Store writes a successful extraction. Failed extractions are never
// written; the caller only reaches here on success.
func (s *BoltStore) Store(fingerprint string, items []entity.LineItem) error {
	if s == nil {
		return nil
	}
	if items == nil {
		items = []entity.LineItem{}
	}

	data, err := json.Marshal(cacheEntry{Items: items, StoredAt: time.Now().UTC()})
	if err != nil {
		return eris.Wrap(err, "marshal cache entry")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(resultsBucket)).Put([]byte(fingerprint), data)
	})
}

func (s *BoltStore) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
