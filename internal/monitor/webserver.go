// Package monitor serves debug charts of the running simulation and of the
// sensor records stored in the database.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"

	"github.com/banshee-data/agentsim/internal/agent"
	"github.com/banshee-data/agentsim/internal/db"
	"github.com/banshee-data/agentsim/internal/httputil"
	"github.com/banshee-data/agentsim/internal/sensor"
)

// CellStore is the read side of the sensor database used by the charts.
type CellStore interface {
	LatestCells(ctx context.Context, sensorID string) ([]sensor.CellRecord, error)
	CellSeries(ctx context.Context, sensorID string) ([]db.CellPoint, error)
}

var _ CellStore = (*db.DB)(nil)

// Config wires the monitor to its data sources.
type Config struct {
	// Latest returns the most recent simulation frame.
	Latest func() (agent.Frame, bool)
	// Store may be nil when nothing is persisted.
	Store         CellStore
	Width, Height float64
	// Sensors lists the sensor ids linked from the dashboard.
	Sensors []string
}

// WebServer renders the monitor pages.
type WebServer struct {
	cfg Config
}

// NewWebServer returns a monitor for cfg.
func NewWebServer(cfg Config) *WebServer {
	return &WebServer{cfg: cfg}
}

// Attach registers the monitor routes on mux under /monitor/.
func (ws *WebServer) Attach(mux *http.ServeMux) {
	mux.HandleFunc("/monitor/", ws.handleDashboard)
	mux.HandleFunc("/monitor/agents", ws.handleAgentScatter)
	mux.HandleFunc("/monitor/cells", ws.handleCellBar)
	mux.HandleFunc("/monitor/series", ws.handleCellSeries)
	mux.HandleFunc("/monitor/api/frame", ws.handleFrameJSON)
}

func (ws *WebServer) writeHTML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(body)
}

// sensorParam returns the sensor_id query parameter, or writes an error.
func (ws *WebServer) sensorParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	if ws.cfg.Store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return "", false
	}
	id := r.URL.Query().Get("sensor_id")
	if id == "" {
		httputil.WriteJSONError(w, http.StatusBadRequest, "sensor_id is required")
		return "", false
	}
	return id, true
}

func (ws *WebServer) storeError(w http.ResponseWriter, sensorID string, err error) {
	if errors.Is(err, db.ErrNoRecords) {
		httputil.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("no records for sensor %s", sensorID))
		return
	}
	httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
}

func (ws *WebServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/monitor/" {
		http.NotFound(w, r)
		return
	}
	links := ""
	for _, id := range ws.cfg.Sensors {
		qs := html.EscapeString("?sensor_id=" + url.QueryEscape(id))
		name := html.EscapeString(id)
		links += fmt.Sprintf(`<li>%s: <a href="cells%s">latest cells</a> · <a href="series%s">totals over time</a></li>`,
			name, qs, qs)
	}
	ws.writeHTML(w, []byte(fmt.Sprintf(dashboardHTML, links)))
}

func (ws *WebServer) handleFrameJSON(w http.ResponseWriter, r *http.Request) {
	f, ok := ws.latest()
	if !ok {
		httputil.WriteJSONError(w, http.StatusNotFound, "no frame yet")
		return
	}
	httputil.WriteJSONOK(w, f)
}

func (ws *WebServer) latest() (agent.Frame, bool) {
	if ws.cfg.Latest == nil {
		return agent.Frame{}, false
	}
	return ws.cfg.Latest()
}

const dashboardHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>agentsim monitor</title></head>
<body>
<h1>agentsim monitor</h1>
<p><a href="agents">Agent positions</a> · <a href="api/frame">latest frame (JSON)</a></p>
<ul>%s</ul>
<iframe src="agents" width="960" height="960" frameborder="0"></iframe>
</body>
</html>`
