package raster

import (
	"sync"

	"github.com/rotblauer/admintiles/slippy"
)

// ClaimSet records the tiles already assigned during one run.
// A finer level claims first; coarser levels skip claimed tiles.
type ClaimSet interface {
	// Claim marks the tile and reports whether it was unclaimed.
	Claim(slippy.Tile) bool
	Claimed(slippy.Tile) bool
	Len() int
}

type claimSet map[slippy.Tile]struct{}

// NewClaimSet returns a ClaimSet for use by a single goroutine.
func NewClaimSet() ClaimSet {
	return claimSet{}
}

func (s claimSet) Claim(t slippy.Tile) bool {
	if _, ok := s[t]; ok {
		return false
	}
	s[t] = struct{}{}
	return true
}

func (s claimSet) Claimed(t slippy.Tile) bool {
	_, ok := s[t]
	return ok
}

func (s claimSet) Len() int {
	return len(s)
}

type syncClaimSet struct {
	mu sync.RWMutex
	m  map[slippy.Tile]struct{}
}

// NewSyncClaimSet returns a ClaimSet safe for concurrent use.
func NewSyncClaimSet() ClaimSet {
	return &syncClaimSet{m: map[slippy.Tile]struct{}{}}
}

func (s *syncClaimSet) Claim(t slippy.Tile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[t]; ok {
		return false
	}
	s.m[t] = struct{}{}
	return true
}

func (s *syncClaimSet) Claimed(t slippy.Tile) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.m[t]
	return ok
}

func (s *syncClaimSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
