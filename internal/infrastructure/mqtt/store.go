package mqtt

import (
	"bytes"
	"errors"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// storeKeyPrefix namespaces in-flight packets inside the badger keyspace.
const storeKeyPrefix = "mqtt:inflight:"

// BadgerStore keeps unacknowledged MQTT packets in badger so QoS 1 publishes
// that were on the wire when the tracker lost power are resent after restart.
//
// It implements paho's Store interface. paho's Store methods cannot return
// errors, so failures are logged and the operation is skipped.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type BadgerStore struct {
	opts badger.Options

	mu sync.RWMutex
	db *badger.DB

	logger Logger
}

var _ pahomqtt.Store = (*BadgerStore)(nil)

// NewBadgerStore creates a store rooted at dir. An empty dir keeps the
// packets in memory only.
func NewBadgerStore(dir string) *BadgerStore {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	return &BadgerStore{
		opts:   opts,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used to report storage failures.
func (s *BadgerStore) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// Open opens the badger database. Opening an open store is a no-op.
func (s *BadgerStore) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return
	}
	db, err := badger.Open(s.opts)
	if err != nil {
		s.logger.Error("opening in-flight store", "dir", s.opts.Dir, "error", err)
		return
	}
	s.db = db
}

// Put stores a packet under key, replacing any previous packet.
func (s *BadgerStore) Put(key string, message packets.ControlPacket) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		s.logger.Warn("in-flight store not open, packet not persisted", "key", key)
		return
	}

	var buf bytes.Buffer
	if err := message.Write(&buf); err != nil {
		s.logger.Error("encoding in-flight packet", "key", key, "error", err)
		return
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storeKey(key), buf.Bytes())
	})
	if err != nil {
		s.logger.Error("persisting in-flight packet", "key", key, "error", err)
	}
}

// Get returns the packet stored under key, or nil if there is none.
func (s *BadgerStore) Get(key string) packets.ControlPacket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil
	}

	var pkt packets.ControlPacket
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			p, err := packets.ReadPacket(bytes.NewReader(val))
			if err != nil {
				return err
			}
			pkt = p
			return nil
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			s.logger.Error("reading in-flight packet", "key", key, "error", err)
		}
		return nil
	}
	return pkt
}

// All returns the keys of every stored packet.
func (s *BadgerStore) All() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil
	}

	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(storeKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), storeKeyPrefix))
		}
		return nil
	})
	if err != nil {
		s.logger.Error("listing in-flight packets", "error", err)
		return nil
	}
	return keys
}

// Del removes the packet stored under key.
func (s *BadgerStore) Del(key string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(storeKey(key))
	})
	if err != nil {
		s.logger.Error("deleting in-flight packet", "key", key, "error", err)
	}
}

// Close closes the badger database. Closing a closed store is a no-op.
func (s *BadgerStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("closing in-flight store", "error", err)
	}
	s.db = nil
}

// Reset removes every stored packet.
func (s *BadgerStore) Reset() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return
	}
	if err := s.db.DropPrefix([]byte(storeKeyPrefix)); err != nil {
		s.logger.Error("resetting in-flight store", "error", err)
	}
}

func storeKey(key string) []byte {
	return []byte(storeKeyPrefix + key)
}
