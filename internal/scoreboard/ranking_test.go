package scoreboard_test

import (
	"testing"

	"github.com/ZJUSCT/CSJudge/internal/scoreboard"
)

func TestCompareSymmetric(t *testing.T) {
	var scores []scoreboard.TeamScore
	for solved := 0; solved < 3; solved++ {
		for _, total := range []int64{0, 15, 100, 161} {
			scores = append(scores, scoreboard.TeamScore{Solved: solved, TotalTime: total})
		}
	}
	for _, a := range scores {
		for _, b := range scores {
			if got, rev := scoreboard.Compare(a, b), scoreboard.Compare(b, a); got != -rev {
				t.Fatalf("Compare(%+v, %+v) = %d but reverse = %d", a, b, got, rev)
			}
		}
	}
}

func TestCompareZeroSolvedEqual(t *testing.T) {
	a := scoreboard.TeamScore{TeamID: "a", TotalTime: 0}
	b := scoreboard.TeamScore{TeamID: "b", TotalTime: 40}
	if scoreboard.Compare(a, b) != 0 {
		t.Fatal("teams without solves must compare equal regardless of time")
	}
}

func TestRankTies(t *testing.T) {
	ranked := scoreboard.Rank([]scoreboard.TeamScore{
		{TeamID: "d", TeamName: "Delta", Solved: 1, TotalTime: 90},
		{TeamID: "a", TeamName: "Alpha", Solved: 2, TotalTime: 100},
		{TeamID: "b", TeamName: "Bravo", Solved: 2, TotalTime: 100},
		{TeamID: "c", TeamName: "Charlie", Solved: 1, TotalTime: 50},
		{TeamID: "e", TeamName: "Echo"},
		{TeamID: "f", TeamName: "Foxtrot", TotalTime: 30},
	})

	want := []struct {
		id   string
		rank int
	}{{"a", 1}, {"b", 1}, {"c", 3}, {"d", 4}, {"e", 5}, {"f", 5}}
	for i, w := range want {
		if ranked[i].TeamID != w.id || ranked[i].Rank != w.rank {
			t.Fatalf("position %d: got %s rank %d, want %s rank %d", i, ranked[i].TeamID, ranked[i].Rank, w.id, w.rank)
		}
	}
}

func TestRankPerSortOrder(t *testing.T) {
	ranked := scoreboard.Rank([]scoreboard.TeamScore{
		{TeamID: "obs", TeamName: "Observer", SortOrder: 1, Solved: 5, TotalTime: 10},
		{TeamID: "x", TeamName: "X", Solved: 1, TotalTime: 10},
		{TeamID: "y", TeamName: "Y", Solved: 2, TotalTime: 10},
	})
	if ranked[0].TeamID != "y" || ranked[0].Rank != 1 || ranked[1].Rank != 2 {
		t.Fatalf("unexpected main group ranking %+v", ranked)
	}
	if ranked[2].TeamID != "obs" || ranked[2].Rank != 1 {
		t.Fatalf("second sort order group must be ranked separately, got %+v", ranked[2])
	}
}
