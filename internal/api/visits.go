package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/occupancy.report/internal/httputil"
	"github.com/banshee-data/occupancy.report/internal/visit"
)

// listVisits serves completed visits from the history store, newest first.
// Without a store it falls back to the tracker's in-memory window.
func (s *Server) listVisits(w http.ResponseWriter, r *http.Request) {
	lotName := r.URL.Query().Get("lot")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeDomainError(r.Context(), w, badInput("limit %q", raw))
			return
		}
		limit = n
	}

	if s.opts.History != nil {
		stored, err := s.opts.History.Visits(lotName, limit)
		if err != nil {
			writeDomainError(r.Context(), w, err)
			return
		}
		if stored == nil {
			stored = []visit.Visit{}
		}
		httputil.WriteSuccess(r.Context(), w, "", stored)
		return
	}
	if s.opts.Visits == nil {
		httputil.WriteSuccess(r.Context(), w, "visit tracking disabled", []visit.Visit{})
		return
	}
	out := []visit.Visit{}
	history := s.opts.Visits.History()
	for i := len(history) - 1; i >= 0; i-- {
		if v := history[i]; lotName == "" || v.Lot == lotName {
			out = append(out, v)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	httputil.WriteSuccess(r.Context(), w, "", out)
}

func (s *Server) openVisits(w http.ResponseWriter, r *http.Request) {
	if s.opts.Visits == nil {
		httputil.WriteSuccess(r.Context(), w, "visit tracking disabled", []visit.Current{})
		return
	}
	httputil.WriteSuccess(r.Context(), w, "", s.opts.Visits.Open())
}

type summaryView struct {
	visit.Summary
	RevenueLabel string `json:"revenue_label"`
	MeanLabel    string `json:"mean_label"`
	MedianLabel  string `json:"median_label"`
}

func (s *Server) visitSummary(w http.ResponseWriter, r *http.Request) {
	var sum visit.Summary
	if s.opts.Visits != nil {
		sum = s.opts.Visits.Summary()
	}
	httputil.WriteSuccess(r.Context(), w, humanize.Comma(int64(sum.Count))+" visit(s)", summaryView{
		Summary:      sum,
		RevenueLabel: "$" + humanize.FormatFloat("#,###.##", sum.Revenue),
		MeanLabel:    sum.MeanDuration.Round(time.Second).String(),
		MedianLabel:  sum.MedianDuration.Round(time.Second).String(),
	})
}
