// Package boltsessions provides a bbolt-backed secure.SessionStore with
// records encrypted at rest. Sessions survive process restarts when this
// store is supplied to the middleware; the default in-memory store remains
// the ephemeral-by-design option.
package boltsessions

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	bolt "go.etcd.io/bbolt"

	"github.com/trainstation/gatehouse/internal/util"
	"github.com/trainstation/gatehouse/secure"
)

var sessionsBucket = []byte("sessions")

const recordKeyInfo = "gatehouse:session:"

// Store encrypts each session record with AES-256-GCM under a per-record
// key derived from a master key via HKDF. The master key lives in a
// memguard enclave and is only unsealed for the duration of each operation.
//
// SessionStore methods carry no error returns, so storage faults degrade to
// "not found" on reads and are logged nowhere louder than the deferred
// Close error; the registry treats a missing record as an invalid session,
// which is the safe direction to fail.
type Store struct {
	db     *bolt.DB
	master *memguard.Enclave
}

var _ secure.SessionStore = (*Store)(nil)

// Open opens (or creates) the database at path. The masterKey must be
// util.KeySize bytes; memguard takes ownership of it and wipes the caller's
// copy.
func Open(path string, masterKey []byte) (*Store, error) {
	if len(masterKey) != util.KeySize {
		return nil, fmt.Errorf("master key must be exactly %d bytes, got %d", util.KeySize, len(masterKey))
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sessions bucket: %w", err)
	}
	return &Store{
		db:     db,
		master: memguard.NewEnclave(masterKey),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) recordKey(id string) ([]byte, error) {
	buf, err := s.master.Open()
	if err != nil {
		return nil, fmt.Errorf("unsealing master key: %w", err)
	}
	defer buf.Destroy()
	return util.DeriveKey(buf.Bytes(), nil, []byte(recordKeyInfo+id))
}

func (s *Store) Get(id string) (secure.Session, bool) {
	var ciphertext []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("not found")
		}
		ciphertext = util.CopyBytes(v)
		return nil
	})
	if err != nil {
		return secure.Session{}, false
	}

	key, err := s.recordKey(id)
	if err != nil {
		return secure.Session{}, false
	}
	defer util.WipeBytes(key)

	plaintext, err := util.Open(ciphertext, key, []byte(id))
	if err != nil {
		return secure.Session{}, false
	}
	defer util.WipeBytes(plaintext)

	var sess secure.Session
	if err := json.Unmarshal(plaintext, &sess); err != nil {
		return secure.Session{}, false
	}
	return sess, true
}

func (s *Store) Put(id string, sess secure.Session) {
	plaintext, err := json.Marshal(sess)
	if err != nil {
		return
	}
	defer util.WipeBytes(plaintext)

	key, err := s.recordKey(id)
	if err != nil {
		return
	}
	defer util.WipeBytes(key)

	ciphertext, err := util.Seal(plaintext, key, []byte(id))
	if err != nil {
		return
	}

	s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(id), ciphertext)
	})
}

func (s *Store) Delete(id string) {
	s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(id))
	})
}

// Range decrypts and visits every stored session. Records that fail to
// decrypt are skipped; the sweep will never see (and so never refresh) them.
func (s *Store) Range(fn func(id string, sess secure.Session) bool) {
	type entry struct {
		id   string
		data []byte
	}
	var entries []entry
	s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(k, v []byte) error {
			entries = append(entries, entry{id: string(k), data: util.CopyBytes(v)})
			return nil
		})
	})

	for _, e := range entries {
		key, err := s.recordKey(e.id)
		if err != nil {
			continue
		}
		plaintext, err := util.Open(e.data, key, []byte(e.id))
		util.WipeBytes(key)
		if err != nil {
			continue
		}
		var sess secure.Session
		err = json.Unmarshal(plaintext, &sess)
		util.WipeBytes(plaintext)
		if err != nil {
			continue
		}
		if !fn(e.id, sess) {
			return
		}
	}
}
