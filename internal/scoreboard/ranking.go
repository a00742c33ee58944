package scoreboard

import "sort"

// Compare orders two team scores: more problems solved first, then less
// total time. Teams without any solve are always equal. The result is
// negative when a ranks above b and Compare(a, b) == -Compare(b, a).
func Compare(a, b TeamScore) int {
	if a.Solved != b.Solved {
		if a.Solved > b.Solved {
			return -1
		}
		return 1
	}
	if a.Solved == 0 {
		return 0
	}
	switch {
	case a.TotalTime < b.TotalTime:
		return -1
	case a.TotalTime > b.TotalTime:
		return 1
	}
	return 0
}

type RankedTeam struct {
	TeamScore
	Rank int
}

// Rank orders scores by category sort order and Compare, and assigns
// competition ranks within each sort order group: tied teams share a rank
// and the next team gets its position (1, 1, 3). Team name and id only fix
// the display order among tied teams.
func Rank(scores []TeamScore) []RankedTeam {
	sorted := make([]TeamScore, len(scores))
	copy(sorted, scores)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		if c := Compare(a, b); c != 0 {
			return c < 0
		}
		if a.TeamName != b.TeamName {
			return a.TeamName < b.TeamName
		}
		return a.TeamID < b.TeamID
	})

	ranked := make([]RankedTeam, len(sorted))
	groupStart := 0
	for i, s := range sorted {
		if i > 0 && s.SortOrder != sorted[i-1].SortOrder {
			groupStart = i
		}
		rank := i - groupStart + 1
		if i > groupStart && Compare(sorted[i-1], s) == 0 {
			rank = ranked[i-1].Rank
		}
		ranked[i] = RankedTeam{TeamScore: s, Rank: rank}
	}
	return ranked
}
