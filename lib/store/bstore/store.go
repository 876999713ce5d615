package bstore

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/guildkv/guildkv/lib/logger"
	"github.com/guildkv/guildkv/lib/store"
	bolt "go.etcd.io/bbolt"
)

var Logger = logger.GetLogger("bstore")

var (
	recordsBucket = []byte("records")
	metaBucket    = []byte("meta")

	versionKey = []byte("lastVersion")
)

// unhealthyAfter is the number of consecutive I/O failures after which the
// store reports itself unhealthy.
const unhealthyAfter = 3

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// Store persists guild records in a single bbolt file below the node's data
// directory. bbolt update transactions are serialized, which gives the
// per-key write serialization the record store contract requires.
type Store struct {
	db       *bolt.DB
	path     string
	failures atomic.Int64
}

// Open opens (or creates) the record store for a node. The file lives at
// <dataDir>/<nodeID>/records.db so that a restarted process with the same
// node ID reattaches to its previous data.
func Open(dataDir, nodeID string) (*Store, error) {
	dir := filepath.Join(dataDir, nodeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, store.NewError(store.KindPersistenceFailure, "create data dir %s: %v", dir, err)
	}

	path := filepath.Join(dir, "records.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, store.NewError(store.KindPersistenceFailure, "open %s: %v", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(recordsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, store.NewError(store.KindPersistenceFailure, "create buckets: %v", err)
	}

	Logger.Infof("record store opened at %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the location of the underlying database file.
func (s *Store) Path() string {
	return s.path
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Put(guildID string, payload []byte, owner string) (store.Record, error) {
	var rec store.Record

	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)

		version := uint64(1)
		if raw := meta.Get(versionKey); raw != nil {
			version = binary.BigEndian.Uint64(raw) + 1
		}

		var vbuf [8]byte
		binary.BigEndian.PutUint64(vbuf[:], version)
		if err := meta.Put(versionKey, vbuf[:]); err != nil {
			return err
		}

		rec = store.Record{
			GuildID: guildID,
			Payload: payload,
			Version: version,
			Owner:   owner,
		}
		return tx.Bucket(recordsBucket).Put([]byte(guildID), encodeRecord(rec))
	})
	if err != nil {
		s.failures.Add(1)
		return store.Record{}, store.NewError(store.KindPersistenceFailure, "put %s: %v", guildID, err)
	}

	s.failures.Store(0)
	return rec, nil
}

func (s *Store) Get(guildID string) (store.Record, bool, error) {
	var (
		rec   store.Record
		found bool
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(recordsBucket).Get([]byte(guildID))
		if raw == nil {
			return nil
		}
		r, err := decodeRecord(guildID, raw)
		if err != nil {
			return err
		}
		rec, found = r, true
		return nil
	})
	if err != nil {
		s.failures.Add(1)
		return store.Record{}, false, store.NewError(store.KindPersistenceFailure, "get %s: %v", guildID, err)
	}

	s.failures.Store(0)
	return rec, found, nil
}

func (s *Store) Delete(guildID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Delete([]byte(guildID))
	})
	if err != nil {
		s.failures.Add(1)
		return store.NewError(store.KindPersistenceFailure, "delete %s: %v", guildID, err)
	}

	s.failures.Store(0)
	return nil
}

func (s *Store) Healthy() error {
	if n := s.failures.Load(); n >= unhealthyAfter {
		return store.NewError(store.KindPersistenceFailure, "%d consecutive storage failures", n)
	}
	// cheap read transaction to verify the file is still reachable
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(recordsBucket) == nil {
			return store.NewError(store.KindPersistenceFailure, "records bucket missing")
		}
		return nil
	})
	if err != nil {
		return store.NewError(store.KindPersistenceFailure, "health probe: %v", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --------------------------------------------------------------------------
// Record Encoding
// --------------------------------------------------------------------------

// Layout: 8 bytes version | 2 bytes owner length | owner | payload.
// The guild ID is the bucket key and is not repeated in the value.

func encodeRecord(rec store.Record) []byte {
	buf := make([]byte, 8+2+len(rec.Owner)+len(rec.Payload))
	binary.BigEndian.PutUint64(buf[:8], rec.Version)
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(rec.Owner)))
	copy(buf[10:], rec.Owner)
	copy(buf[10+len(rec.Owner):], rec.Payload)
	return buf
}

func decodeRecord(guildID string, raw []byte) (store.Record, error) {
	if len(raw) < 10 {
		return store.Record{}, store.NewError(store.KindPersistenceFailure, "record for %s is truncated", guildID)
	}
	version := binary.BigEndian.Uint64(raw[:8])
	ownerLen := int(binary.BigEndian.Uint16(raw[8:10]))
	if len(raw) < 10+ownerLen {
		return store.Record{}, store.NewError(store.KindPersistenceFailure, "record for %s is truncated", guildID)
	}

	owner := string(raw[10 : 10+ownerLen])
	payload := make([]byte, len(raw)-10-ownerLen)
	copy(payload, raw[10+ownerLen:])

	return store.Record{
		GuildID: guildID,
		Payload: payload,
		Version: version,
		Owner:   owner,
	}, nil
}
