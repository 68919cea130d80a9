// Package discovery finds parking lots near a driver.
package discovery

import (
	"iter"
	"math"
	"slices"

	"github.com/golang/geo/r2"

	"github.com/banshee-data/occupancy.report/internal/lot"
)

// EuclideanDistance returns the straight-line distance between a and b.
func EuclideanDistance(a, b r2.Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

type ranked struct {
	lot      *lot.Lot
	distance float64
}

// RankLotsByDistance yields every lot with its distance from `from`, nearest
// first. Full lots are included. Lots at equal distance keep their order in
// lots. Distances are computed once, when iteration starts.
func RankLotsByDistance(from r2.Point, lots []*lot.Lot) iter.Seq2[*lot.Lot, float64] {
	return func(yield func(*lot.Lot, float64) bool) {
		order := make([]ranked, len(lots))
		for i, l := range lots {
			order[i] = ranked{lot: l, distance: EuclideanDistance(from, l.Coordinates())}
		}
		slices.SortStableFunc(order, func(a, b ranked) int {
			switch {
			case a.distance < b.distance:
				return -1
			case a.distance > b.distance:
				return 1
			}
			return 0
		})
		for _, r := range order {
			if !yield(r.lot, r.distance) {
				return
			}
		}
	}
}

// Nearest returns up to n lots from RankLotsByDistance. n <= 0 returns all.
func Nearest(from r2.Point, lots []*lot.Lot, n int) []Candidate {
	var out []Candidate
	for l, d := range RankLotsByDistance(from, lots) {
		if n > 0 && len(out) == n {
			break
		}
		out = append(out, Candidate{Lot: l, Distance: d})
	}
	return out
}

// Candidate is a ranked lot.
type Candidate struct {
	Lot      *lot.Lot
	Distance float64
}
