package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang/geo/r2"

	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/discovery"
	"github.com/banshee-data/occupancy.report/internal/httputil"
	"github.com/banshee-data/occupancy.report/internal/lot"
	"github.com/banshee-data/occupancy.report/internal/units"
)

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func fromR2(p r2.Point) point { return point{X: p.X, Y: p.Y} }

type lotView struct {
	Name        string     `json:"name"`
	Address     string     `json:"address"`
	Fee         float64    `json:"fee"`
	FeeLabel    string     `json:"fee_label"`
	TimeLimit   int        `json:"time_limit_minutes"`
	LimitLabel  string     `json:"time_limit_label"`
	Coordinates point      `json:"coordinates"`
	Capacity    int        `json:"capacity"`
	TotalSpots  int        `json:"total_spots"`
	Occupied    int        `json:"occupied"`
	Distance    *float64   `json:"distance,omitempty"`
	Spots       []lot.Spot `json:"spots,omitempty"`
}

func newLotView(l *lot.Lot, withSpots bool) lotView {
	v := lotView{
		Name:        l.Name(),
		Address:     l.Address(),
		Fee:         l.Fee(),
		FeeLabel:    discovery.FormatFee(l.Fee()),
		TimeLimit:   l.TimeLimit(),
		LimitLabel:  discovery.FormatTimeLimit(l.TimeLimit()),
		Coordinates: fromR2(l.Coordinates()),
		Capacity:    l.Capacity(),
		TotalSpots:  l.TotalSpots(),
		Occupied:    l.OccupiedCount(),
	}
	if withSpots {
		v.Spots = l.Spots()
	}
	return v
}

// lookupLot resolves the {name} path parameter.
func (s *Server) lookupLot(r *http.Request) (*lot.Lot, error) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		return nil, badInput("lot name %q", chi.URLParam(r, "name"))
	}
	return s.opts.Registry.Get(name)
}

func (s *Server) listLots(w http.ResponseWriter, r *http.Request) {
	lots := s.opts.Registry.Lots()
	out := make([]lotView, 0, len(lots))
	for _, l := range lots {
		out = append(out, newLotView(l, false))
	}
	httputil.WriteSuccess(r.Context(), w, "", out)
}

func (s *Server) nearbyLots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, errX := strconv.ParseFloat(q.Get("x"), 64)
	y, errY := strconv.ParseFloat(q.Get("y"), 64)
	if errX != nil || errY != nil {
		writeDomainError(r.Context(), w, badInput("x and y query parameters must be numbers"))
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeDomainError(r.Context(), w, badInput("limit %q", raw))
			return
		}
		limit = n
	}

	ranked := discovery.Nearest(r2.Point{X: x, Y: y}, s.opts.Registry.Lots(), limit)
	out := make([]lotView, 0, len(ranked))
	for _, c := range ranked {
		v := newLotView(c.Lot, false)
		d := c.Distance
		v.Distance = &d
		out = append(out, v)
	}
	httputil.WriteSuccess(r.Context(), w, "", out)
}

func (s *Server) getLot(w http.ResponseWriter, r *http.Request) {
	l, err := s.lookupLot(r)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	httputil.WriteSuccess(r.Context(), w, "", newLotView(l, true))
}

type eventView struct {
	ID       int64     `json:"id"`
	SpotID   int       `json:"spot_id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Distance *float64  `json:"distance,omitempty"`
	Units    string    `json:"units"`
	At       time.Time `json:"at"`
}

func (s *Server) renderEvent(e db.OccupancyEvent) (eventView, error) {
	at, err := units.ConvertTime(e.At, s.opts.Timezone)
	if err != nil {
		return eventView{}, err
	}
	v := eventView{ID: e.ID, SpotID: e.SpotID, From: e.From, To: e.To, Units: s.opts.Units, At: at}
	if e.Distance != nil {
		d := units.ConvertDistance(*e.Distance, s.opts.Units)
		v.Distance = &d
	}
	return v, nil
}

func (s *Server) lotEvents(w http.ResponseWriter, r *http.Request) {
	l, err := s.lookupLot(r)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	if s.opts.History == nil {
		httputil.WriteSuccess(r.Context(), w, "history disabled", []eventView{})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			writeDomainError(r.Context(), w, badInput("limit %q", raw))
			return
		}
	}
	events, err := s.opts.History.OccupancyEvents(l.Name(), limit)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		v, err := s.renderEvent(e)
		if err != nil {
			writeDomainError(r.Context(), w, err)
			return
		}
		out = append(out, v)
	}
	httputil.WriteSuccess(r.Context(), w, "", out)
}

type spotUpdate struct {
	Occupied *bool `json:"occupied" validate:"required"`
}

// updateSpot sets a spot by hand. When the lot has a pipeline the change is
// committed through it so visits, history and metrics see it.
func (s *Server) updateSpot(w http.ResponseWriter, r *http.Request) {
	l, err := s.lookupLot(r)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	spotID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(r.Context(), w, badInput("spot id %q", chi.URLParam(r, "id")))
		return
	}
	var body spotUpdate
	if err := decodeBody(r, &body); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	if p, ok := s.pipelines[l]; ok {
		_, err = p.Override(spotID, *body.Occupied)
	} else {
		err = l.UpdateSpotStatus(spotID, *body.Occupied)
	}
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	spot, err := l.Spot(spotID)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	httputil.WriteSuccess(r.Context(), w, "spot updated", spot)
}
