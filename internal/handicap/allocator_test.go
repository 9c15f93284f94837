package handicap

import (
	"testing"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// orderedRanking returns [1,2,...,18]: hole 1 is the hardest.
func orderedRanking() [Holes]int {
	var r [Holes]int
	for i := range r {
		r[i] = i + 1
	}
	return r
}

// reversedRanking returns [18,17,...,1]: hole 18 is the hardest.
func reversedRanking() [Holes]int {
	var r [Holes]int
	for i := range r {
		r[i] = Holes - i
	}
	return r
}

func TestAllocateStrokes_TwentyOrderedRanking(t *testing.T) {
	alloc, err := AllocateStrokes(20, orderedRanking())
	require.NoError(t, err)

	// Holes ranked 1 and 2 get two strokes, the rest one.
	assert.Equal(t, 2, alloc[0])
	assert.Equal(t, 2, alloc[1])
	for hole := 2; hole < Holes; hole++ {
		assert.Equal(t, 1, alloc[hole], "hole %d", hole+1)
	}
	assert.Equal(t, 20, alloc.Sum())
}

func TestAllocateStrokes_ZeroHandicap(t *testing.T) {
	alloc, err := AllocateStrokes(0, reversedRanking())
	require.NoError(t, err)
	assert.Equal(t, Allocation{}, alloc)
}

func TestAllocateStrokes_SingleDigit(t *testing.T) {
	alloc, err := AllocateStrokes(7, orderedRanking())
	require.NoError(t, err)

	// The 7 hardest holes get one stroke each.
	for hole := 0; hole < 7; hole++ {
		assert.Equal(t, 1, alloc[hole], "hole %d", hole+1)
	}
	for hole := 7; hole < Holes; hole++ {
		assert.Equal(t, 0, alloc[hole], "hole %d", hole+1)
	}
}

func TestAllocateStrokes_PlusHandicapRemovesFromEasiestHoles(t *testing.T) {
	alloc, err := AllocateStrokes(-3, orderedRanking())
	require.NoError(t, err)

	// Holes ranked 16, 17, 18 (the easiest three) each give a stroke back.
	assert.Equal(t, -1, alloc[15])
	assert.Equal(t, -1, alloc[16])
	assert.Equal(t, -1, alloc[17])
	for hole := 0; hole < 15; hole++ {
		assert.Equal(t, 0, alloc[hole], "hole %d", hole+1)
	}
	assert.Equal(t, -3, alloc.Sum())
}

func TestAllocateStrokes_SumEqualsHandicap(t *testing.T) {
	rankings := [][Holes]int{orderedRanking(), reversedRanking()}
	for h := -40; h <= 40; h++ {
		for _, ranking := range rankings {
			alloc, err := AllocateStrokes(h, ranking)
			require.NoError(t, err)
			assert.Equal(t, h, alloc.Sum(), "handicap %d", h)
		}
	}
}

func TestAllocateStrokes_HardestHolesNeverGetFewer(t *testing.T) {
	ranking := orderedRanking()
	for h := -40; h <= 40; h++ {
		alloc, err := AllocateStrokes(h, ranking)
		require.NoError(t, err)
		for i := 1; i < Holes; i++ {
			assert.GreaterOrEqual(t, alloc[i-1], alloc[i],
				"handicap %d: hole %d (harder) got fewer strokes than hole %d", h, i, i+1)
		}
	}
}

func TestAllocateStrokes_InvalidRanking(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		ranking := orderedRanking()
		ranking[5] = 3 // 3 appears twice, 6 never
		_, err := AllocateStrokes(10, ranking)
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeInvalidRanking))
	})

	t.Run("out of range", func(t *testing.T) {
		ranking := orderedRanking()
		ranking[0] = 0
		_, err := AllocateStrokes(10, ranking)
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeInvalidRanking))
	})

	t.Run("all zeros", func(t *testing.T) {
		_, err := AllocateStrokes(10, [Holes]int{})
		require.Error(t, err)
	})
}

func TestNetScore(t *testing.T) {
	assert.Equal(t, 4, NetScore(5, 1))
	assert.Equal(t, 5, NetScore(5, 0))
	// Plus-handicap hole: negative allocation adds a stroke.
	assert.Equal(t, 6, NetScore(5, -1))
}

func TestBestBall(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.False(t, BestBall(nil).Valid)
	})

	t.Run("single", func(t *testing.T) {
		got := BestBall([]int{4})
		assert.True(t, got.Valid)
		assert.Equal(t, 4, got.Best)
	})

	t.Run("takes minimum", func(t *testing.T) {
		got := BestBall([]int{5, 3, 6})
		assert.Equal(t, 3, got.Best)
	})
}

func TestFourballWinner(t *testing.T) {
	tests := []struct {
		name  string
		teamA []int
		teamB []int
		want  domain.HoleWinner
	}{
		{"team A lower best ball", []int{4, 5}, []int{5, 6}, domain.WinnerTeamA},
		{"team B lower best ball", []int{5, 5}, []int{6, 4}, domain.WinnerTeamB},
		{"equal minima halve", []int{4, 6}, []int{7, 4}, domain.WinnerHalved},
		{"one bad ball does not matter", []int{3, 9}, []int{4, 4}, domain.WinnerTeamA},
		{"team A no scores concedes", nil, []int{5}, domain.WinnerTeamB},
		{"team B no scores concedes", []int{5}, nil, domain.WinnerTeamA},
		{"no scores at all", nil, nil, domain.WinnerNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FourballWinner(tt.teamA, tt.teamB))
		})
	}
}

func TestCache(t *testing.T) {
	cache := NewCache()
	ranking := orderedRanking()

	first, err := cache.Get("p1", "tee-blue", 12, ranking)
	require.NoError(t, err)
	assert.Equal(t, 12, first.Sum())

	// Second call hits the cache even with a different handicap argument;
	// callers must Invalidate on handicap revisions.
	again, err := cache.Get("p1", "tee-blue", 30, ranking)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	cache.Invalidate("p1", "tee-blue")
	fresh, err := cache.Get("p1", "tee-blue", 30, ranking)
	require.NoError(t, err)
	assert.Equal(t, 30, fresh.Sum())
}

func TestCache_InvalidRankingNotCached(t *testing.T) {
	cache := NewCache()
	bad := orderedRanking()
	bad[0] = 2

	_, err := cache.Get("p1", "tee-white", 10, bad)
	require.Error(t, err)

	// A later valid call must not be poisoned.
	alloc, err := cache.Get("p1", "tee-white", 10, orderedRanking())
	require.NoError(t, err)
	assert.Equal(t, 10, alloc.Sum())
}
