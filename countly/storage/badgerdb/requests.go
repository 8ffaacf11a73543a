// Package badgerdb implements a persistent request storage on top of BadgerDB
package badgerdb

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/countly/countly-go-sdk/countly/storage"
	"github.com/dgraph-io/badger/v4"
	"github.com/splitio/go-toolkit/v5/logging"
)

var (
	requestPrefix = []byte("req/")
	sequenceKey   = []byte("seq/requests")
)

const sequenceBandwidth = 100

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool
}

// RequestsStorage implements storage.RequestStorage using BadgerDB.
// Requests survive process restarts; ids come from a Badger sequence so they keep
// growing across restarts as well.
type RequestsStorage struct {
	cfg      Config
	db       *badger.DB
	seq      *badger.Sequence
	logger   logging.LoggerInterface
	broken   bool
	reported bool
	mutex    sync.Mutex
}

// NewRequestsStorage returns an uninitialized badger request storage. Init must be called before use.
func NewRequestsStorage(cfg Config, logger logging.LoggerInterface) *RequestsStorage {
	return &RequestsStorage{
		cfg:    cfg,
		logger: logger,
	}
}

// Init opens the database. A failure leaves the storage in broken mode.
func (s *RequestsStorage) Init() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.db != nil && !s.broken {
		return
	}
	s.release()

	path := s.cfg.Path
	if s.cfg.InMemory {
		path = ""
	}

	opts := badger.DefaultOptions(path).
		WithInMemory(s.cfg.InMemory).
		WithLogger(&badgerLogger{logger: s.logger}).
		WithNumVersionsToKeep(1).
		WithMemTableSize(8 << 20).
		WithNumMemtables(2).
		WithNumCompactors(2).
		WithValueLogFileSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		s.fail("opening request storage", err)
		return
	}

	seq, err := db.GetSequence(sequenceKey, sequenceBandwidth)
	if err != nil {
		db.Close()
		s.fail("leasing request ids", err)
		return
	}

	s.db = db
	s.seq = seq
	s.broken = false
	s.reported = false
}

// Count returns the number of stored requests
func (s *RequestsStorage) Count() int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.available() {
		return 0
	}

	var count int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = requestPrefix

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		s.fail("counting requests", err)
		return 0
	}
	return count
}

// InsertAtEnd appends a request with a fresh id
func (s *RequestsStorage) InsertAtEnd(data string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.available() {
		return
	}

	next, err := s.seq.Next()
	if err != nil {
		s.fail("assigning request id", err)
		return
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(int64(next)+1), []byte(data))
	})
	if err != nil {
		s.fail("inserting request", err)
	}
}

// PeekFront returns the oldest request
func (s *RequestsStorage) PeekFront() (storage.DataEntry, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.available() {
		return storage.DataEntry{}, false
	}

	var entry storage.DataEntry
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 1
		opts.Prefix = requestPrefix

		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		if !it.Valid() {
			return nil
		}

		var err error
		entry, err = readEntry(it.Item())
		found = err == nil
		return err
	})
	if err != nil {
		s.fail("reading front request", err)
		return storage.DataEntry{}, false
	}
	return entry, found
}

// PeekAll returns every stored request, oldest first
func (s *RequestsStorage) PeekAll() []storage.DataEntry {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	toReturn := make([]storage.DataEntry, 0)
	if !s.available() {
		return toReturn
	}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = requestPrefix

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			entry, err := readEntry(it.Item())
			if err != nil {
				return err
			}
			toReturn = append(toReturn, entry)
		}
		return nil
	})
	if err != nil {
		s.fail("reading requests", err)
		return make([]storage.DataEntry, 0)
	}
	return toReturn
}

// RemoveFront drops the oldest request
func (s *RequestsStorage) RemoveFront() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.available() {
		return
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		key := frontKey(txn)
		if key == nil {
			return nil
		}
		return txn.Delete(key)
	})
	if err != nil {
		s.fail("removing front request", err)
	}
}

// RemoveEntry drops the request with the entry's id, if still present
func (s *RequestsStorage) RemoveEntry(entry storage.DataEntry) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.available() {
		return
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(makeKey(entry.ID))
	})
	if err != nil {
		s.fail("removing request", err)
	}
}

// ClearAll drops every stored request
func (s *RequestsStorage) ClearAll() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.available() {
		return
	}

	if err := s.db.DropPrefix(requestPrefix); err != nil {
		s.fail("clearing requests", err)
	}
}

// Close releases the id lease and shuts down BadgerDB cleanly
func (s *RequestsStorage) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	err := s.release()
	s.broken = true
	s.reported = true
	return err
}

func (s *RequestsStorage) release() error {
	if s.db == nil {
		return nil
	}
	if s.seq != nil {
		if err := s.seq.Release(); err != nil {
			s.logger.Debug("Error releasing request id lease: ", err.Error())
		}
		s.seq = nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// available must be called with the mutex held
func (s *RequestsStorage) available() bool {
	if s.db != nil && !s.broken {
		return true
	}
	if !s.reported {
		s.logger.Error("Request storage is not available, requests will not be persisted")
		s.reported = true
	}
	return false
}

// fail must be called with the mutex held
func (s *RequestsStorage) fail(operation string, err error) {
	if !s.broken || !s.reported {
		s.logger.Error(fmt.Sprintf("Request storage failed while %s: %s. Storage disabled until re-initialized", operation, err.Error()))
	}
	s.broken = true
	s.reported = true
}

func frontKey(txn *badger.Txn) []byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = requestPrefix

	it := txn.NewIterator(opts)
	defer it.Close()
	it.Rewind()
	if !it.Valid() {
		return nil
	}
	return it.Item().KeyCopy(nil)
}

func readEntry(item *badger.Item) (storage.DataEntry, error) {
	value, err := item.ValueCopy(nil)
	if err != nil {
		return storage.DataEntry{}, err
	}
	return storage.DataEntry{ID: parseKey(item.Key()), Data: string(value)}, nil
}

// makeKey creates a sortable key: prefix + big endian id
func makeKey(id int64) []byte {
	key := make([]byte, len(requestPrefix)+8)
	copy(key, requestPrefix)
	binary.BigEndian.PutUint64(key[len(requestPrefix):], uint64(id))
	return key
}

func parseKey(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(requestPrefix):]))
}

// badgerLogger forwards badger's own logging to the sdk logger
type badgerLogger struct {
	logger logging.LoggerInterface
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warning(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Verbose(fmt.Sprintf(format, args...))
}
