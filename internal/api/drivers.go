package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/golang/geo/r2"

	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/discovery"
	"github.com/banshee-data/occupancy.report/internal/httputil"
	"github.com/banshee-data/occupancy.report/internal/lot"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/session"
)

var errNoFreeSpot = errors.New("no free spot")

type parkingView struct {
	Lot    string    `json:"lot"`
	SpotID int       `json:"spot_id"`
	Since  time.Time `json:"since"`
}

type driverView struct {
	UserID   int          `json:"user_id"`
	Balance  float64      `json:"balance"`
	Position point        `json:"position"`
	Parking  *parkingView `json:"parking,omitempty"`
	// Overstays counts recorded overstays; absent without a history store.
	Overstays *int `json:"overstays,omitempty"`
}

func newDriverView(d *session.Driver) driverView {
	v := driverView{
		UserID:   d.UserID(),
		Balance:  d.Balance(),
		Position: fromR2(d.Position()),
	}
	if p, ok := d.Parking(); ok {
		v.Parking = &parkingView{Lot: p.Lot.Name(), SpotID: p.SpotID, Since: p.Since}
	}
	return v
}

func (s *Server) lookupDriver(r *http.Request) (*session.Driver, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil {
		return nil, badInput("user id %q", raw)
	}
	return s.opts.Drivers.Get(id)
}

type registerRequest struct {
	UserID  int     `json:"user_id" validate:"gt=0"`
	Balance float64 `json:"balance"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

func (s *Server) registerDriver(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	d, created := s.opts.Drivers.Register(req.UserID, req.Balance, r2.Point{X: req.X, Y: req.Y})
	if !created {
		httputil.WriteError(r.Context(), w, http.StatusConflict, fmt.Sprintf("driver %d already registered", req.UserID))
		return
	}
	httputil.WriteStatus(r.Context(), w, http.StatusCreated, "driver registered", newDriverView(d))
}

func (s *Server) getDriver(w http.ResponseWriter, r *http.Request) {
	d, err := s.lookupDriver(r)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	v := newDriverView(d)
	if s.opts.History != nil {
		n, err := s.opts.History.OverstayCount(d.UserID())
		if err != nil {
			writeDomainError(r.Context(), w, err)
			return
		}
		v.Overstays = &n
	}
	httputil.WriteSuccess(r.Context(), w, "", v)
}

func (s *Server) moveDriver(w http.ResponseWriter, r *http.Request) {
	d, err := s.lookupDriver(r)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	var p point
	if err := decodeBody(r, &p); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	d.MoveTo(r2.Point{X: p.X, Y: p.Y})
	httputil.WriteSuccess(r.Context(), w, "driver moved", newDriverView(d))
}

type parkRequest struct {
	Lot    string `json:"lot"`
	SpotID *int   `json:"spot_id" validate:"omitempty,gt=0"`
}

func spotIsFree(sp lot.Spot) bool {
	return sp.Holder == 0 && sp.State != occupancy.Occupied
}

func firstFreeSpot(l *lot.Lot) (int, bool) {
	for _, sp := range l.Spots() {
		if spotIsFree(sp) {
			return sp.ID, true
		}
	}
	return 0, false
}

// chooseSpot resolves a park request. An empty lot picks the nearest lot
// to the driver with a free spot; a missing spot picks the first free one.
func (s *Server) chooseSpot(d *session.Driver, req parkRequest) (*lot.Lot, int, error) {
	if req.Lot == "" {
		for l := range discovery.RankLotsByDistance(d.Position(), s.opts.Registry.Lots()) {
			if req.SpotID != nil {
				sp, err := l.Spot(*req.SpotID)
				if err == nil && spotIsFree(sp) {
					return l, sp.ID, nil
				}
				continue
			}
			if id, ok := firstFreeSpot(l); ok {
				return l, id, nil
			}
		}
		return nil, 0, errNoFreeSpot
	}

	l, err := s.opts.Registry.Get(req.Lot)
	if err != nil {
		return nil, 0, err
	}
	if req.SpotID != nil {
		return l, *req.SpotID, nil
	}
	id, ok := firstFreeSpot(l)
	if !ok {
		return nil, 0, fmt.Errorf("%w in %s", errNoFreeSpot, l.Name())
	}
	return l, id, nil
}

func (s *Server) park(w http.ResponseWriter, r *http.Request) {
	d, err := s.lookupDriver(r)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	var req parkRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeDomainError(r.Context(), w, err)
			return
		}
	}
	l, spotID, err := s.chooseSpot(d, req)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	if err := s.opts.Sessions.ParkIn(r.Context(), d, l, spotID); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	if s.opts.History != nil {
		p, _ := d.Parking()
		if err := s.opts.History.RecordParkingStart(d.UserID(), p); err != nil {
			logf("failed to record parking start for user %d: %v", d.UserID(), err)
		}
	}
	httputil.WriteSuccess(r.Context(), w, fmt.Sprintf("parked in %s spot %d", l.Name(), spotID), newDriverView(d))
}

type leaveView struct {
	Driver  driverView  `json:"driver"`
	Left    parkingView `json:"left"`
	Stayed  string      `json:"stayed"`
	Seconds float64     `json:"seconds"`
}

func (s *Server) leave(w http.ResponseWriter, r *http.Request) {
	d, err := s.lookupDriver(r)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	p, err := s.opts.Sessions.LeaveParkingLot(r.Context(), d)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	now := s.opts.Clock.Now()
	if s.opts.History != nil {
		if err := s.opts.History.RecordParkingEnd(d.UserID(), now); err != nil {
			logf("failed to record parking end for user %d: %v", d.UserID(), err)
		}
	}
	stayed := now.Sub(p.Since)
	httputil.WriteSuccess(r.Context(), w, "left "+p.Lot.Name(), leaveView{
		Driver:  newDriverView(d),
		Left:    parkingView{Lot: p.Lot.Name(), SpotID: p.SpotID, Since: p.Since},
		Stayed:  strings.TrimSpace(humanize.RelTime(p.Since, now, "", "")),
		Seconds: stayed.Seconds(),
	})
}

func (s *Server) driverSessions(w http.ResponseWriter, r *http.Request) {
	d, err := s.lookupDriver(r)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	if s.opts.History == nil {
		httputil.WriteSuccess(r.Context(), w, "history disabled", []db.ParkingSession{})
		return
	}
	sessions, err := s.opts.History.ParkingSessions(d.UserID(), 0)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	if sessions == nil {
		sessions = []db.ParkingSession{}
	}
	httputil.WriteSuccess(r.Context(), w, "", sessions)
}

type overstayView struct {
	UserID      int       `json:"user_id"`
	Lot         string    `json:"lot"`
	SpotID      int       `json:"spot_id"`
	Since       time.Time `json:"since"`
	OverSeconds float64   `json:"over_seconds"`
}

func (s *Server) listOverstays(w http.ResponseWriter, r *http.Request) {
	overs := s.opts.Drivers.Overstays(s.opts.Clock.Now())
	out := make([]overstayView, 0, len(overs))
	for _, o := range overs {
		out = append(out, overstayView{
			UserID:      o.UserID,
			Lot:         o.Parking.Lot.Name(),
			SpotID:      o.Parking.SpotID,
			Since:       o.Parking.Since,
			OverSeconds: o.Over.Seconds(),
		})
	}
	httputil.WriteSuccess(r.Context(), w, fmt.Sprintf("%d driver(s) over the limit", len(out)), out)
}
