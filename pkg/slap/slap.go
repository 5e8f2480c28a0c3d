// Package slap implements the slap command.
package slap

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Member is someone who can be slapped.
type Member struct {
	ID      string
	Name    string
	Mention string
}

// Slapper decides who gets slapped.
type Slapper struct {
	chance float64

	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Slapper that redirects with the given probability. A nil rng
// is seeded from the clock.
func New(chance float64, rng *rand.Rand) *Slapper {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Slapper{chance: chance, rng: rng}
}

// Slap returns the message for bot slapping target on behalf of author.
// An empty target slaps the author. A target that matches no member gets the
// author slapped instead. members is the pool for random redirects.
func (s *Slapper) Slap(bot string, author Member, target string, members []Member) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return bot + " slapped " + author.Mention + "!"
	}

	victim, ok := find(target, members)
	if !ok {
		return bot + " didn't know who to slap, so " + author.Mention + " was slapped instead!"
	}

	if other, ok := s.redirect(victim, members); ok {
		return bot + " slapped " + other.Mention + " instead!"
	}
	return bot + " slapped " + victim.Mention + "!"
}

func (s *Slapper) redirect(victim Member, members []Member) (Member, bool) {
	var pool []Member
	for _, m := range members {
		if m.ID != victim.ID {
			pool = append(pool, m)
		}
	}
	if len(pool) == 0 {
		return Member{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng.Float64() >= s.chance {
		return Member{}, false
	}
	return pool[s.rng.Intn(len(pool))], true
}

// find matches a mention, an id or a case-insensitive name.
func find(target string, members []Member) (Member, bool) {
	id := strings.TrimSuffix(strings.TrimPrefix(target, "<@"), ">")
	id = strings.TrimPrefix(id, "!")
	for _, m := range members {
		if m.ID == id || m.Mention == target || strings.EqualFold(m.Name, target) {
			return m, true
		}
	}
	return Member{}, false
}
