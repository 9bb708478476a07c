package session

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
)

const (
	defaultTTL    = time.Hour
	cleanupPeriod = 10 * time.Minute
)

// Store keeps conversation state in process memory with TTL eviction.
// Sessions that stay idle past the TTL are dropped.
type Store struct {
	cache *gocache.Cache
	ttl   time.Duration
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{
		cache: gocache.New(ttl, cleanupPeriod),
		ttl:   ttl,
	}
}

func (s *Store) State(sessionID string) (*domain.ConversationState, bool) {
	v, ok := s.cache.Get(sessionID)
	if !ok {
		return nil, false
	}
	state, ok := v.(*domain.ConversationState)
	if !ok {
		return nil, false
	}
	return state, true
}

// Save resets the TTL so active sessions never expire mid-conversation.
func (s *Store) Save(state *domain.ConversationState) {
	if state == nil || state.SessionID == "" {
		return
	}
	s.cache.Set(state.SessionID, state, s.ttl)
}
