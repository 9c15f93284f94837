package handicap

import (
	"fmt"
	"sync"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
)

// Holes is the number of holes strokes are allocated across.
const Holes = 18

// Allocation is strokes received per hole, indexed by hole number - 1.
// Values may be negative for plus-handicap players; consumers subtract the
// value from gross, so a negative allocation adds to the net score.
type Allocation [Holes]int

// Sum returns the total strokes in the allocation. For any valid ranking the
// sum equals the course handicap exactly.
func (a Allocation) Sum() int {
	total := 0
	for _, s := range a {
		total += s
	}
	return total
}

// ValidateRanking checks that ranking is a permutation of 1..18
// (1 = hardest hole).
func ValidateRanking(ranking [Holes]int) error {
	var seen [Holes + 1]bool
	for i, r := range ranking {
		if r < 1 || r > Holes {
			return domain.ErrInvalidRanking(fmt.Sprintf("hole %d has ranking %d outside 1-18", i+1, r))
		}
		if seen[r] {
			return domain.ErrInvalidRanking(fmt.Sprintf("ranking %d appears more than once", r))
		}
		seen[r] = true
	}
	return nil
}

// AllocateStrokes distributes a course handicap across 18 holes by
// difficulty ranking.
//
// Positive handicap: every hole gets floor(h/18), and the (h mod 18) hardest
// holes get one more. Plus handicap (negative): the mirror image, strokes are
// taken away starting from the easiest holes, so the allocation can go
// negative.
func AllocateStrokes(courseHandicap int, ranking [Holes]int) (Allocation, error) {
	if err := ValidateRanking(ranking); err != nil {
		return Allocation{}, err
	}

	var alloc Allocation
	if courseHandicap >= 0 {
		base := courseHandicap / Holes
		extra := courseHandicap % Holes
		for i, r := range ranking {
			alloc[i] = base
			if r <= extra {
				alloc[i]++
			}
		}
		return alloc, nil
	}

	// h < 0: remove |h| strokes, easiest holes (highest ranking) first.
	h := -courseHandicap
	base := h / Holes
	extra := h % Holes
	for i, r := range ranking {
		alloc[i] = -base
		if r > Holes-extra {
			alloc[i]--
		}
	}
	return alloc, nil
}

// NetScore applies an allocation to a gross score.
func NetScore(gross, strokesReceived int) int {
	return gross - strokesReceived
}

// TeamNet holds one team's best net score on a hole.
type TeamNet struct {
	Best  int
	Valid bool
}

// BestBall returns the minimum net score over a team's contributing players.
// nets must be the already-netted scores; an empty slice yields Valid=false.
func BestBall(nets []int) TeamNet {
	if len(nets) == 0 {
		return TeamNet{}
	}
	best := nets[0]
	for _, n := range nets[1:] {
		if n < best {
			best = n
		}
	}
	return TeamNet{Best: best, Valid: true}
}

// FourballWinner compares each team's best-ball net and returns the hole
// outcome. A team with no recorded scores concedes the hole; two empty teams
// yield none.
func FourballWinner(teamANets, teamBNets []int) domain.HoleWinner {
	a := BestBall(teamANets)
	b := BestBall(teamBNets)
	switch {
	case !a.Valid && !b.Valid:
		return domain.WinnerNone
	case !a.Valid:
		return domain.WinnerTeamB
	case !b.Valid:
		return domain.WinnerTeamA
	case a.Best < b.Best:
		return domain.WinnerTeamA
	case b.Best < a.Best:
		return domain.WinnerTeamB
	default:
		return domain.WinnerHalved
	}
}

// Cache memoizes allocations per (player, tee) pair. Safe for concurrent use.
type Cache struct {
	mu     sync.RWMutex
	byPair map[string]Allocation
}

// NewCache creates an empty allocation cache.
func NewCache() *Cache {
	return &Cache{byPair: make(map[string]Allocation)}
}

// Get returns the cached allocation for the pair, computing and storing it on
// a miss.
func (c *Cache) Get(playerID, teeID string, courseHandicap int, ranking [Holes]int) (Allocation, error) {
	key := playerID + "|" + teeID

	c.mu.RLock()
	alloc, ok := c.byPair[key]
	c.mu.RUnlock()
	if ok {
		return alloc, nil
	}

	alloc, err := AllocateStrokes(courseHandicap, ranking)
	if err != nil {
		return Allocation{}, err
	}

	c.mu.Lock()
	c.byPair[key] = alloc
	c.mu.Unlock()
	return alloc, nil
}

// Invalidate drops the cached allocation for a pair, e.g. after a handicap
// revision.
func (c *Cache) Invalidate(playerID, teeID string) {
	c.mu.Lock()
	delete(c.byPair, playerID+"|"+teeID)
	c.mu.Unlock()
}
