// Package state keeps the persistent node-ID table of the passthrough
// engine, so node IDs and generations survive remounts.
package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"vnfuse/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("state")
)

var (
	keyNextID  = []byte("meta:next")
	pathPrefix = "p:"
	idPrefix   = "i:"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("state: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("state: CBOR decoder initialization failed: " + err.Error())
	}
}

// Manager hands out and remembers node IDs for source paths.
type Manager struct {
	db      *badger.DB
	firstID uint64
	mu      sync.Mutex
}

// NewManager opens the node-ID table described by cfg.
func NewManager(cfg Config) (*Manager, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	if cfg.Dir != "" {
		dir, err := filepath.Abs(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve state directory %s: %w", cfg.Dir, err)
		}
		logger.Debug("Ensuring state directory exists: %s", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(badgerLogger{logger}).WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	if cfg.FirstID == 0 {
		cfg.FirstID = 1
	}
	logger.Info("State manager ready (dir=%q)", cfg.Dir)
	return &Manager{db: db, firstID: cfg.FirstID}, nil
}

// Assign returns the entry for rel, creating it on first sight. When the
// host inode behind rel differs from the recorded one the generation is
// bumped.
func (sm *Manager) Assign(rel string, hostIno uint64) (Entry, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var entry Entry
	err := sm.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(pathPrefix + rel))
		switch {
		case err == nil:
			var id uint64
			if err := item.Value(func(val []byte) error {
				id = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
			if entry, err = getEntry(txn, id); err != nil {
				return err
			}
			if entry.HostIno == hostIno {
				return nil
			}
			logger.Debug("%s: host inode %d -> %d, generation %d", rel, entry.HostIno, hostIno, entry.Gen+1)
			entry.Gen++
			entry.HostIno = hostIno
			return putEntry(txn, entry)

		case errors.Is(err, badger.ErrKeyNotFound):
			id, err := sm.nextID(txn)
			if err != nil {
				return err
			}
			entry = Entry{ID: id, Gen: 1, Path: rel, HostIno: hostIno}
			if err := txn.Set([]byte(pathPrefix+rel), encodeID(id)); err != nil {
				return err
			}
			logger.Trace("%s: assigned node %d", rel, id)
			return putEntry(txn, entry)

		default:
			return err
		}
	})
	if err != nil {
		return Entry{}, fmt.Errorf("failed to assign node ID for %q: %w", rel, err)
	}
	return entry, nil
}

// Lookup returns the entry recorded for id.
func (sm *Manager) Lookup(id uint64) (Entry, error) {
	var entry Entry
	err := sm.db.View(func(txn *badger.Txn) error {
		var err error
		entry, err = getEntry(txn, id)
		return err
	})
	return entry, err
}

// Close flushes and closes the table.
func (sm *Manager) Close() error {
	if err := sm.db.Close(); err != nil {
		return fmt.Errorf("failed to close state database: %w", err)
	}
	return nil
}

func (sm *Manager) nextID(txn *badger.Txn) (uint64, error) {
	id := sm.firstID
	item, err := txn.Get(keyNextID)
	switch {
	case err == nil:
		if err := item.Value(func(val []byte) error {
			id = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return 0, err
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return 0, err
	}
	if err := txn.Set(keyNextID, encodeID(id+1)); err != nil {
		return 0, err
	}
	return id, nil
}

func encodeID(id uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, id)
}

func idKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(idPrefix), id)
}

func getEntry(txn *badger.Txn, id uint64) (Entry, error) {
	var entry Entry
	item, err := txn.Get(idKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return entry, ErrNotFound
	}
	if err != nil {
		return entry, err
	}
	err = item.Value(func(val []byte) error {
		return decMode.Unmarshal(val, &entry)
	})
	return entry, err
}

func putEntry(txn *badger.Txn, entry Entry) error {
	data, err := encMode.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	return txn.Set(idKey(entry.ID), data)
}

// badgerLogger routes badger's messages through the package logger.
type badgerLogger struct {
	l *logging.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(format, args...)
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(format, args...)
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(format, args...)
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Trace(format, args...)
}
