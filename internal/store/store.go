// Package store is the encrypted local key-value store that holds application
// state, local backup envelopes and the last synced content of each sync path.
// Values are sealed with AES-256-GCM under a key derived from the passphrase.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"syncvault/internal/apperr"
	"syncvault/internal/crypto"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta     = []byte("meta")
	bucketState    = []byte("state")
	bucketBackups  = []byte("backups")
	bucketSyncBase = []byte("sync_base")

	keySalt         = []byte("salt")
	keyCheck        = []byte("check")
	keyLastModified = []byte("last_modified")
)

const (
	checkValue   = "syncvault-store-v1"
	backupPrefix = "backup_"
)

type Store struct {
	db     *bolt.DB
	key    []byte
	logger *slog.Logger
}

// Open opens or creates the store at path. A new store remembers the salt and
// a sealed check value so that later opens can tell a wrong passphrase apart
// from corrupt data.
func Open(path, passphrase string, logger *slog.Logger) (*Store, error) {
	if passphrase == "" {
		return nil, apperr.New(apperr.KindConfig, "open store", "store passphrase is required (store.passphrase or SYNCVAULT_PASSPHRASE)")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.init(passphrase); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(passphrase string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketState, bucketBackups, bucketSyncBase} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket(bucketMeta)
		salt := meta.Get(keySalt)
		if salt == nil {
			fresh, err := crypto.GenerateSalt()
			if err != nil {
				return err
			}
			s.key = crypto.DeriveKey(passphrase, fresh)
			check, err := crypto.Seal(s.key, []byte(checkValue))
			if err != nil {
				return err
			}
			if err := meta.Put(keySalt, fresh); err != nil {
				return err
			}
			return meta.Put(keyCheck, check)
		}

		s.key = crypto.DeriveKey(passphrase, salt)
		plain, err := crypto.Unseal(s.key, meta.Get(keyCheck))
		if err != nil || string(plain) != checkValue {
			return apperr.New(apperr.KindAuth, "open store", "wrong passphrase")
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(tx *bolt.Tx, bucket []byte, key string, value []byte) error {
	sealed, err := crypto.Seal(s.key, value)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), sealed)
}

func (s *Store) get(tx *bolt.Tx, bucket []byte, key string) ([]byte, bool, error) {
	sealed := tx.Bucket(bucket).Get([]byte(key))
	if sealed == nil {
		return nil, false, nil
	}
	plain, err := crypto.Unseal(s.key, sealed)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindFormat, "read "+key, err)
	}
	return plain, true, nil
}

func touch(tx *bolt.Tx, t time.Time) error {
	return tx.Bucket(bucketMeta).Put(keyLastModified, []byte(t.UTC().Format(time.RFC3339Nano)))
}

func (s *Store) Set(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := s.put(tx, bucketState, key, []byte(value)); err != nil {
			return err
		}
		return touch(tx, time.Now())
	})
}

func (s *Store) Get(key string) (string, bool, error) {
	var value []byte
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		value, ok, err = s.get(tx, bucketState, key)
		return err
	})
	return string(value), ok, err
}

func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketState).Delete([]byte(key)); err != nil {
			return err
		}
		return touch(tx, time.Now())
	})
}

// Keys returns the state keys in sorted order.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// LastModified is the time of the last state write, or the zero time for a
// store that was never written.
func (s *Store) LastModified() time.Time {
	var t time.Time
	s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keyLastModified)
		if raw != nil {
			t, _ = time.Parse(time.RFC3339Nano, string(raw))
		}
		return nil
	})
	return t
}

// Touch overrides the last-modified time without changing any state.
func (s *Store) Touch(t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return touch(tx, t)
	})
}

// ExportSnapshot serializes every state key as one JSON object.
func (s *Store) ExportSnapshot() (string, error) {
	state := map[string]string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).ForEach(func(k, _ []byte) error {
			value, _, err := s.get(tx, bucketState, string(k))
			if err != nil {
				return err
			}
			state[string(k)] = string(value)
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseSnapshot(data string) (map[string]string, error) {
	var state map[string]string
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errors.New("snapshot is not a JSON object")
	}
	return state, nil
}

// ImportSnapshot replaces the whole state with data. It reports false when data
// cannot be parsed or written; the previous state is then left untouched.
func (s *Store) ImportSnapshot(data string) bool {
	state, err := parseSnapshot(data)
	if err != nil {
		s.logger.Error("Failed to parse snapshot", "error", err)
		return false
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketState); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		if _, err := tx.CreateBucket(bucketState); err != nil {
			return err
		}
		for k, v := range state {
			if err := s.put(tx, bucketState, k, []byte(v)); err != nil {
				return err
			}
		}
		return touch(tx, time.Now())
	})
	if err != nil {
		s.logger.Error("Failed to import snapshot", "error", err)
		return false
	}
	s.logger.Info("Snapshot imported", "keys", len(state))
	return true
}

// ImportKeys upserts only the listed keys from data. Keys absent from data are
// skipped.
func (s *Store) ImportKeys(data string, keys []string) bool {
	state, err := parseSnapshot(data)
	if err != nil {
		s.logger.Error("Failed to parse snapshot", "error", err)
		return false
	}

	imported := 0
	err = s.db.Update(func(tx *bolt.Tx) error {
		for _, k := range keys {
			v, ok := state[k]
			if !ok {
				s.logger.Debug("Key not present in snapshot", "key", k)
				continue
			}
			if err := s.put(tx, bucketState, k, []byte(v)); err != nil {
				return err
			}
			imported++
		}
		return touch(tx, time.Now())
	})
	if err != nil {
		s.logger.Error("Failed to import keys", "error", err)
		return false
	}
	s.logger.Info("Selected keys imported", "requested", len(keys), "imported", imported)
	return true
}

func (s *Store) PutBackup(id string, envelope []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.put(tx, bucketBackups, backupPrefix+id, envelope)
	})
}

func (s *Store) GetBackup(id string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		var ok bool
		var err error
		data, ok, err = s.get(tx, bucketBackups, backupPrefix+id)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Errorf(apperr.KindNotFound, "get backup", "local backup %s not found", id)
		}
		return nil
	})
	return data, err
}

func (s *Store) DeleteBackup(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBackups)
		if b.Get([]byte(backupPrefix+id)) == nil {
			return apperr.Errorf(apperr.KindNotFound, "delete backup", "local backup %s not found", id)
		}
		return b.Delete([]byte(backupPrefix + id))
	})
}

func (s *Store) BackupIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBackups).ForEach(func(k, _ []byte) error {
			ids = append(ids, strings.TrimPrefix(string(k), backupPrefix))
			return nil
		})
	})
	sort.Strings(ids)
	return ids, err
}

// SyncBase returns the content of path as of the last successful sync.
func (s *Store) SyncBase(path string) (string, bool, error) {
	var value []byte
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		value, ok, err = s.get(tx, bucketSyncBase, path)
		return err
	})
	return string(value), ok, err
}

func (s *Store) SetSyncBase(path, content string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.put(tx, bucketSyncBase, path, []byte(content))
	})
}
