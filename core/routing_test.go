package core

import (
	"testing"

	"github.com/signalsfoundry/rumor-routing-sim/model"
)

func TestMergeKeepsShortestAndIncumbentOnTies(t *testing.T) {
	a, b, c, d, e := model.Pos(0, 1), model.Pos(0, 2), model.Pos(0, 3), model.Pos(0, 4), model.Pos(0, 5)
	table := RoutingTable{
		1: {EventID: 1, Distance: 3, NextHop: a},
		2: {EventID: 2, Distance: 1, NextHop: b},
		4: {EventID: 4, Distance: 0, NextHop: a},
	}
	incoming := RoutingTable{
		1: {EventID: 1, Distance: 2, NextHop: c},
		2: {EventID: 2, Distance: 1, NextHop: d},
		3: {EventID: 3, Distance: 5, NextHop: e},
		4: {EventID: 4, Distance: 6, NextHop: e},
	}
	if adopted := table.Merge(incoming); adopted != 2 {
		t.Fatalf("adopted = %d, want 2", adopted)
	}

	want := map[int]model.ImplicitEvent{
		1: {EventID: 1, Distance: 2, NextHop: c},
		2: {EventID: 2, Distance: 1, NextHop: b},
		3: {EventID: 3, Distance: 5, NextHop: e},
		4: {EventID: 4, Distance: 0, NextHop: a},
	}
	for id, w := range want {
		if got := table[id]; got != w {
			t.Fatalf("entry %d = %+v, want %+v", id, got, w)
		}
	}
	if ids := table.EventIDs(); len(ids) != 4 || ids[0] != 1 || ids[3] != 4 {
		t.Fatalf("EventIDs = %v", ids)
	}
}

func TestMergeIsMinimumForAllPairs(t *testing.T) {
	hop := model.Pos(9, 9)
	for existing := -1; existing <= 3; existing++ {
		for candidate := 0; candidate <= 3; candidate++ {
			table := RoutingTable{}
			if existing >= 0 {
				table[1] = model.ImplicitEvent{EventID: 1, Distance: existing}
			}
			table.Merge(RoutingTable{1: {EventID: 1, Distance: candidate, NextHop: hop}})

			want := candidate
			if existing >= 0 && existing <= candidate {
				want = existing
			}
			if got := table[1].Distance; got != want {
				t.Fatalf("existing=%d candidate=%d: distance %d, want %d", existing, candidate, got, want)
			}
			if existing >= 0 && existing <= candidate && table[1].NextHop == hop {
				t.Fatalf("existing=%d candidate=%d: incumbent replaced", existing, candidate)
			}
		}
	}
}
