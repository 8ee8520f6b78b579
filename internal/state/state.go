package state

import (
	"slices"
	"sync"
	"time"

	"bookview/internal/order"
)

// State is the viewer-side selection: which symbol is being looked at and
// when the last crossed-book alert for a symbol went out.
type State struct {
	activeMu     sync.RWMutex
	activeSymbol string

	alertMu   sync.Mutex
	lastAlert map[string]time.Time // key: SYMBOL
	cooldown  time.Duration
}

func NewState(defaultSymbol string, cooldown time.Duration) *State {
	return &State{
		activeSymbol: order.NormalizeSymbol(defaultSymbol),
		lastAlert:    make(map[string]time.Time),
		cooldown:     cooldown,
	}
}

func (s *State) SetSymbol(sym string) string {
	canon := order.NormalizeSymbol(sym)
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	s.activeSymbol = canon
	return canon
}

func (s *State) Symbol() string {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	return s.activeSymbol
}

// Reselect applies the auto-reselect policy: when symbols is non-empty and
// the active symbol is not in it, the first available symbol becomes active.
// It returns the active symbol and whether it changed.
func (s *State) Reselect(symbols []string) (string, bool) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if len(symbols) == 0 || slices.Contains(symbols, s.activeSymbol) {
		return s.activeSymbol, false
	}
	s.activeSymbol = symbols[0]
	return s.activeSymbol, true
}

// AllowAlert rate-limits crossed-book alerts per symbol.
func (s *State) AllowAlert(symbol string, now time.Time) bool {
	k := order.NormalizeSymbol(symbol)
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	last, ok := s.lastAlert[k]
	if !ok || now.Sub(last) >= s.cooldown {
		s.lastAlert[k] = now
		return true
	}
	return false
}

// ClearAlert forgets the cooldown for a symbol once its book uncrosses, so
// the next crossing alerts immediately.
func (s *State) ClearAlert(symbol string) {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	delete(s.lastAlert, order.NormalizeSymbol(symbol))
}
