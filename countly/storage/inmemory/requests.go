// Package inmemory implements a request storage that lives only as long as the process
package inmemory

import (
	"container/list"
	"sync"

	"github.com/countly/countly-go-sdk/countly/storage"
)

// RequestsStorage in memory request storage
type RequestsStorage struct {
	queue  *list.List
	lastID int64
	mutex  *sync.Mutex
}

// NewRequestsStorage returns an instance of RequestsStorage
func NewRequestsStorage() *RequestsStorage {
	return &RequestsStorage{
		queue: list.New(),
		mutex: &sync.Mutex{},
	}
}

// Init is a no-op for the in-memory backend
func (s *RequestsStorage) Init() {}

// Count returns the number of stored requests
func (s *RequestsStorage) Count() int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return int64(s.queue.Len())
}

// InsertAtEnd appends a request with a fresh id
func (s *RequestsStorage) InsertAtEnd(data string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lastID++
	s.queue.PushBack(storage.DataEntry{ID: s.lastID, Data: data})
}

// PeekFront returns the oldest request
func (s *RequestsStorage) PeekFront() (storage.DataEntry, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	front := s.queue.Front()
	if front == nil {
		return storage.DataEntry{}, false
	}
	return front.Value.(storage.DataEntry), true
}

// PeekAll returns every stored request, oldest first
func (s *RequestsStorage) PeekAll() []storage.DataEntry {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	toReturn := make([]storage.DataEntry, 0, s.queue.Len())
	for e := s.queue.Front(); e != nil; e = e.Next() {
		toReturn = append(toReturn, e.Value.(storage.DataEntry))
	}
	return toReturn
}

// RemoveFront drops the oldest request
func (s *RequestsStorage) RemoveFront() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if front := s.queue.Front(); front != nil {
		s.queue.Remove(front)
	}
}

// RemoveEntry drops the request with the entry's id, if still present
func (s *RequestsStorage) RemoveEntry(entry storage.DataEntry) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for e := s.queue.Front(); e != nil; e = e.Next() {
		current := e.Value.(storage.DataEntry)
		if current.ID == entry.ID {
			s.queue.Remove(e)
			return
		}
		// ids are ascending, nothing further can match
		if current.ID > entry.ID {
			return
		}
	}
}

// ClearAll drops every request. Ids keep increasing afterwards.
func (s *RequestsStorage) ClearAll() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.queue.Init()
}

// Close is a no-op for the in-memory backend
func (s *RequestsStorage) Close() error {
	return nil
}
