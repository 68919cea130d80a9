package discovery

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/golang/geo/r2"

	"github.com/banshee-data/occupancy.report/internal/lot"
)

// FormatFee renders a dollar amount as currency, e.g. "$1,250.00".
func FormatFee(fee float64) string {
	return "$" + humanize.FormatFloat("#,###.##", fee)
}

// FormatTimeLimit splits a limit in minutes into hours and minutes.
func FormatTimeLimit(minutes int) string {
	if minutes == 0 {
		return "no time limit"
	}
	return fmt.Sprintf("%d hours and %d minutes", minutes/60, minutes%60)
}

// WriteListing writes the lots near `from`, nearest first.
func WriteListing(w io.Writer, from r2.Point, lots []*lot.Lot) error {
	if _, err := fmt.Fprintln(w, "-- List of Parking Lots/Garages in your area --"); err != nil {
		return err
	}
	for l, d := range RankLotsByDistance(from, lots) {
		_, err := fmt.Fprintf(w, "\n%s: %s\nFee: %s for %s\nDistance: %.2f\nSpots: %d of %d occupied\n",
			l.Name(), l.Address(),
			FormatFee(l.Fee()), FormatTimeLimit(l.TimeLimit()),
			d, l.OccupiedCount(), l.TotalSpots())
		if err != nil {
			return err
		}
	}
	return nil
}
