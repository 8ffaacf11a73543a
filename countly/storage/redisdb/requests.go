// Package redisdb implements a request storage backed by a Redis list, suitable for
// hosts where several processes share one outbound queue
package redisdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/countly/countly-go-sdk/countly/storage"
	"github.com/redis/go-redis/v9"
	"github.com/splitio/go-toolkit/v5/logging"
)

const (
	requestsKey  = "requests"
	lastIDKey    = "requests.lastId"
	opTimeout    = 5 * time.Second
	dialTimeout  = 2 * time.Second
	keySeparator = "."
	peekWindow   = 16
)

// Config holds the redis connection parameters
type Config struct {
	Host     string
	Port     int
	Database int
	Password string
	Prefix   string
}

// RequestsStorage redis implementation of the RequestStorage interface.
// Each list element is "<id>:<request body>".
type RequestsStorage struct {
	cfg      Config
	client   *redis.Client
	logger   logging.LoggerInterface
	listKey  string
	idKey    string
	broken   bool
	reported bool
	mutex    sync.Mutex
}

// NewRequestsStorage returns an instance of RequestsStorage. Init must be called before use.
func NewRequestsStorage(cfg Config, logger logging.LoggerInterface) *RequestsStorage {
	return &RequestsStorage{
		cfg:     cfg,
		logger:  logger,
		listKey: prefixed(cfg.Prefix, requestsKey),
		idKey:   prefixed(cfg.Prefix, lastIDKey),
	}
}

func prefixed(prefix string, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + keySeparator + key
}

// Init connects to redis and checks the connection with a PING
func (s *RequestsStorage) Init() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.client != nil && !s.broken {
		return
	}

	if s.client == nil {
		s.client = redis.NewClient(&redis.Options{
			Addr:        fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
			Password:    s.cfg.Password,
			DB:          s.cfg.Database,
			DialTimeout: dialTimeout,
			MaxRetries:  1,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.fail("connecting", err)
		return
	}

	s.broken = false
	s.reported = false
}

// Count returns the number of queued requests (LLEN)
func (s *RequestsStorage) Count() int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.available() {
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	count, err := s.client.LLen(ctx, s.listKey).Result()
	if err != nil {
		s.fail("counting requests", err)
		return 0
	}
	return count
}

// InsertAtEnd pushes requests into the redis LIST with RPUSH
func (s *RequestsStorage) InsertAtEnd(data string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.available() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	id, err := s.client.Incr(ctx, s.idKey).Result()
	if err != nil {
		s.fail("assigning request id", err)
		return
	}

	if err := s.client.RPush(ctx, s.listKey, encode(storage.DataEntry{ID: id, Data: data})).Err(); err != nil {
		s.fail("pushing request", err)
	}
}

// PeekFront returns the first well-formed element of the list, scanning it with LRANGE.
// Malformed elements are skipped here and dropped by the next removal.
func (s *RequestsStorage) PeekFront() (storage.DataEntry, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.available() {
		return storage.DataEntry{}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	for start := int64(0); ; start += peekWindow {
		raws, err := s.client.LRange(ctx, s.listKey, start, start+peekWindow-1).Result()
		if err != nil {
			s.fail("reading front request", err)
			return storage.DataEntry{}, false
		}
		for _, raw := range raws {
			if entry, err := decode(raw); err == nil {
				return entry, true
			}
		}
		if int64(len(raws)) < peekWindow {
			return storage.DataEntry{}, false
		}
	}
}

// dropMalformedHead removes malformed elements from the head of the list. Must be called with the mutex held.
func (s *RequestsStorage) dropMalformedHead(ctx context.Context) {
	for !s.broken {
		raw, err := s.client.LIndex(ctx, s.listKey, 0).Result()
		if errors.Is(err, redis.Nil) {
			return
		}
		if err != nil {
			s.fail("reading front request", err)
			return
		}
		if _, err := decode(raw); err == nil {
			return
		}

		s.logger.Warning("Dropping malformed request found in redis: ", raw)
		if err := s.client.LRem(ctx, s.listKey, 1, raw).Err(); err != nil {
			s.fail("dropping malformed request", err)
		}
	}
}

// PeekAll returns every queued request, oldest first (LRANGE 0 -1)
func (s *RequestsStorage) PeekAll() []storage.DataEntry {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	toReturn := make([]storage.DataEntry, 0)
	if !s.available() {
		return toReturn
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	raws, err := s.client.LRange(ctx, s.listKey, 0, -1).Result()
	if err != nil {
		s.fail("reading requests", err)
		return toReturn
	}

	for _, raw := range raws {
		entry, err := decode(raw)
		if err != nil {
			s.logger.Warning("Skipping malformed request found in redis: ", err.Error())
			continue
		}
		toReturn = append(toReturn, entry)
	}
	return toReturn
}

// RemoveFront pops the first well-formed element of the list (LPOP)
func (s *RequestsStorage) RemoveFront() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.available() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	s.dropMalformedHead(ctx)
	if s.broken {
		return
	}
	if err := s.client.LPop(ctx, s.listKey).Err(); err != nil && !errors.Is(err, redis.Nil) {
		s.fail("removing front request", err)
		return
	}
	s.dropMalformedHead(ctx)
}

// RemoveEntry removes the exact element for entry (LREM 1)
func (s *RequestsStorage) RemoveEntry(entry storage.DataEntry) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.available() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.client.LRem(ctx, s.listKey, 1, encode(entry)).Err(); err != nil {
		s.fail("removing request", err)
		return
	}
	s.dropMalformedHead(ctx)
}

// ClearAll deletes the list. The id counter is kept so ids are never reused.
func (s *RequestsStorage) ClearAll() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.available() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.client.Del(ctx, s.listKey).Err(); err != nil {
		s.fail("clearing requests", err)
	}
}

// Close closes the redis connection pool
func (s *RequestsStorage) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.broken = true
	s.reported = true
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// available must be called with the mutex held
func (s *RequestsStorage) available() bool {
	if s.client != nil && !s.broken {
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

func encode(entry storage.DataEntry) string {
	return strconv.FormatInt(entry.ID, 10) + ":" + entry.Data
}

func decode(raw string) (storage.DataEntry, error) {
	separator := strings.IndexByte(raw, ':')
	if separator < 0 {
		return storage.DataEntry{}, fmt.Errorf("missing id separator in %q", raw)
	}
	id, err := strconv.ParseInt(raw[:separator], 10, 64)
	if err != nil {
		return storage.DataEntry{}, fmt.Errorf("invalid request id: %w", err)
	}
	return storage.DataEntry{ID: id, Data: raw[separator+1:]}, nil
}
