package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/i474232898/netatmo-collector/internal/driver"
)

var (
	// ErrNotFound is returned when no packets are available.
	ErrNotFound = errors.New("no packets stored")
)

// MemoryStore is a concurrency-safe in-memory packet history. It doubles as
// a driver sink.
type MemoryStore struct {
	mu sync.RWMutex

	// time-ordered by arrival
	packets []driver.Packet

	// retention configuration
	maxHistory int           // max number of packets
	maxAge     time.Duration // optional max age of packets

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Write appends pkt and enforces retention.
func (s *MemoryStore) Write(_ context.Context, pkt driver.Packet) error {
	s.SavePacket(pkt)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// SavePacket appends a new packet and enforces retention.
func (s *MemoryStore) SavePacket(pkt driver.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.packets = append(s.packets, pkt)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.packets) > s.maxHistory {
		over := len(s.packets) - s.maxHistory
		s.packets = append([]driver.Packet(nil), s.packets[over:]...)
	}

	// Enforce retention by age. The newest packet is always kept.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(s.packets)-1; i++ {
			if !s.packets[i].DateTime.Before(cutoff) {
				break
			}
		}
		if i > 0 {
			s.packets = s.packets[i:]
		}
	}
}

// GetLatest returns the most recent packet.
func (s *MemoryStore) GetLatest() (driver.Packet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.packets) == 0 {
		return driver.Packet{}, ErrNotFound
	}
	return s.packets[len(s.packets)-1], nil
}

// GetRange returns all packets between from and to (inclusive).
func (s *MemoryStore) GetRange(from, to time.Time) ([]driver.Packet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []driver.Packet
	for _, pkt := range s.packets {
		if !pkt.DateTime.Before(from) && !pkt.DateTime.After(to) {
			result = append(result, pkt)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}
