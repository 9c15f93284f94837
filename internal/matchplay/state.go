// Package matchplay is the single source of truth for live match state.
// Every surface that shows a score consumes Compute; nothing else derives
// winners or margins on its own.
package matchplay

import (
	"fmt"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
)

// TotalHoles is the length of a match-play round.
const TotalHoles = 18

// State is the derived live state of a match.
//
// Score is holes up for team A minus holes up for team B: positive means
// team A leads.
type State struct {
	HolesPlayed    int  `json:"holes_played"`
	HolesRemaining int  `json:"holes_remaining"`
	Score          int  `json:"score"`
	Dormie         bool `json:"dormie"`
	ClosedOut      bool `json:"closed_out"`
	CanContinue    bool `json:"can_continue"`
}

// Compute folds an ordered list of hole results into the live state. Results
// with winner none count as unplayed.
func Compute(results []domain.HoleResult) State {
	var s State
	for _, hr := range results {
		switch hr.Winner {
		case domain.WinnerTeamA:
			s.Score++
		case domain.WinnerTeamB:
			s.Score--
		case domain.WinnerHalved:
		default:
			continue
		}
		s.HolesPlayed++
	}

	s.HolesRemaining = TotalHoles - s.HolesPlayed
	margin := s.Score
	if margin < 0 {
		margin = -margin
	}
	s.Dormie = s.HolesRemaining > 0 && margin == s.HolesRemaining
	s.ClosedOut = margin > s.HolesRemaining
	s.CanContinue = !s.ClosedOut && s.HolesRemaining > 0
	return s
}

// Decided reports whether the match can accept no further hole results
// without an explicit reopen.
func (s State) Decided() bool {
	return s.ClosedOut || s.HolesRemaining == 0
}

// Leader returns which team is up, or WinnerNone when all square.
func (s State) Leader() domain.HoleWinner {
	switch {
	case s.Score > 0:
		return domain.WinnerTeamA
	case s.Score < 0:
		return domain.WinnerTeamB
	default:
		return domain.WinnerNone
	}
}

func (s State) margin() int {
	if s.Score < 0 {
		return -s.Score
	}
	return s.Score
}

// DisplayScore renders the margin in match-play notation.
//
// The 18th-hole boundary is load-bearing: a match decided exactly on the last
// hole is "N UP", never "N&0".
func (s State) DisplayScore() string {
	// The zero-remaining cases come first: with no holes left a positive
	// margin is still closed out by the formula, but it must render as
	// "N UP", not "N&0".
	switch {
	case s.HolesRemaining == 0 && s.Score == 0:
		return "Halved"
	case s.HolesRemaining == 0:
		return fmt.Sprintf("%d UP", s.margin())
	case s.ClosedOut:
		return fmt.Sprintf("%d&%d", s.margin(), s.HolesRemaining)
	case s.Score == 0:
		return "All Square"
	default:
		return fmt.Sprintf("%d UP", s.margin())
	}
}

// Summary renders the full UI line for the state, with "through N" context
// while the match is live.
func (s State) Summary(teamAName, teamBName string) string {
	if !s.Decided() {
		if s.Score == 0 {
			if s.HolesPlayed == 0 {
				return "All Square"
			}
			return fmt.Sprintf("All Square through %d", s.HolesPlayed)
		}
		return fmt.Sprintf("%s %s through %d", s.leaderName(teamAName, teamBName), s.DisplayScore(), s.HolesPlayed)
	}
	if s.Score == 0 {
		return "Halved"
	}
	return fmt.Sprintf("%s wins %s", s.leaderName(teamAName, teamBName), s.DisplayScore())
}

func (s State) leaderName(teamAName, teamBName string) string {
	if s.Score >= 0 {
		return teamAName
	}
	return teamBName
}
