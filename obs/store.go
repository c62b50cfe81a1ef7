package obs

import (
	"encoding/hex"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/globalsched/scheduler/cmn"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// recordsCollection namespaces observability keys the same way the
// teacher's dbdriver.BuntDriver namespaces its key-value pairs by
// collection, in case a future sink (e.g. a per-tenant log) shares one
// buntdb instance.
const recordsCollection = "records"

const collectionSepa = "##"

func makePath(collection, key string) string {
	if strings.HasSuffix(collection, collectionSepa) {
		return collection + key
	}
	return collection + collectionSepa + key
}

// Store is an in-memory, TTL-bounded ring of observability records, backed
// by buntdb running purely in RAM. Grounded on the teacher's
// dbdriver.BuntDriver: same SyncPolicy/auto-shrink tuning and
// collection-prefixed key scheme, repurposed from a general-purpose
// object-store metadata cache to a single fixed collection of
// short-lived request records with per-entry TTL rather than explicit
// deletes.
type Store struct {
	db  *buntdb.DB
	ttl time.Duration
}

// Open creates a Store whose entries expire after ttl.
func Open(ttl time.Duration) (*Store, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, cmn.Wrap(err, "opening in-memory observability store")
	}
	if err := db.SetConfig(buntdb.Config{
		SyncPolicy:           buntdb.Never, // pure in-memory db, nothing to fsync
		AutoShrinkMinSize:    1 << 20,
		AutoShrinkPercentage: 50,
	}); err != nil {
		db.Close()
		return nil, cmn.Wrap(err, "configuring observability store")
	}
	return &Store{db: db, ttl: ttl}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put encodes r with its hand-written msgp methods and stores it keyed by
// its observability id, expiring after the store's configured TTL.
func (s *Store) Put(r Record) error {
	raw, err := r.MarshalMsg(nil)
	if err != nil {
		return cmn.Wrap(err, "encoding observability record")
	}
	val := hex.EncodeToString(raw)
	name := makePath(recordsCollection, r.ID)
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(name, val, &buntdb.SetOptions{Expires: true, TTL: s.ttl})
		return err
	})
}

// Get looks up one record by its observability id. ok is false if the
// record was never written or has since expired.
func (s *Store) Get(id string) (rec Record, ok bool, err error) {
	name := makePath(recordsCollection, id)
	err = s.db.View(func(tx *buntdb.Tx) error {
		val, getErr := tx.Get(name)
		if getErr == buntdb.ErrNotFound {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		raw, decErr := hex.DecodeString(val)
		if decErr != nil {
			return decErr
		}
		if _, decErr := rec.UnmarshalMsg(raw); decErr != nil {
			return decErr
		}
		ok = true
		return nil
	})
	if err != nil {
		return Record{}, false, cmn.Wrap(err, "reading observability record")
	}
	return rec, ok, nil
}

// List returns every live record, in key order, for a streaming feed
// endpoint (transport package).
func (s *Store) List() ([]Record, error) {
	var out []Record
	prefix := makePath(recordsCollection, "")
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, val string) bool {
			raw, decErr := hex.DecodeString(val)
			if decErr != nil {
				return true
			}
			var rec Record
			if _, decErr := rec.UnmarshalMsg(raw); decErr == nil {
				out = append(out, rec)
			}
			return true
		})
	})
	if err != nil {
		return nil, cmn.Wrap(err, "listing observability records")
	}
	return out, nil
}

// JSON renders a record for an HTTP response body.
func JSON(r Record) ([]byte, error) {
	return jsonAPI.Marshal(r)
}
