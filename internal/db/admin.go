package db

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// AttachAdminRoutes mounts the SQL console, the backup download and the
// arrivals chart under /debug/ on mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Occupancy history",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")
		if err := db.Backup(w); err != nil {
			logf("backup failed: %v", err)
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		}
	}))

	debug.HandleFunc("arrivals", "Hourly arrivals chart (?lot=&hours=24)", db.handleArrivalsChart)
	return nil
}

// Backup snapshots the database with VACUUM INTO and streams it to w
// gzip-compressed.
func (db *DB) Backup(w io.Writer) error {
	dir, err := os.MkdirTemp("", "occupancy-backup-")
	if err != nil {
		return err
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logf("failed to remove backup dir: %v", err)
		}
	}()

	backupPath := filepath.Join(dir, "backup.db")
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		return err
	}
	f, err := os.Open(backupPath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(w)
	if _, err := io.Copy(gz, f); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

func (db *DB) handleArrivalsChart(w http.ResponseWriter, r *http.Request) {
	lot := r.URL.Query().Get("lot")
	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		if v, err := strconv.Atoi(h); err == nil && v > 0 && v <= 24*31 {
			hours = v
		}
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	buckets, err := db.HourlyArrivals(lot, since)
	if err != nil {
		http.Error(w, fmt.Sprintf("query error: %v", err), http.StatusInternalServerError)
		return
	}

	x := make([]string, 0, len(buckets))
	y := make([]opts.BarData, 0, len(buckets))
	for _, b := range buckets {
		x = append(x, b.Hour.Format("Jan 2 15:04"))
		y = append(y, opts.BarData{Value: b.Count})
	}

	subtitle := "all lots"
	if lot != "" {
		subtitle = lot
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Arrivals", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Arrivals per hour", Subtitle: fmt.Sprintf("%s, last %d hours", subtitle, hours)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).AddSeries("arrivals", y,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
