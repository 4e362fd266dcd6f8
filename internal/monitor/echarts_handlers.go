package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/agentsim/internal/agent"
	"github.com/banshee-data/agentsim/internal/httputil"
	"github.com/banshee-data/agentsim/internal/units"
)

// handleAgentScatter plots the latest frame, one series per agent type.
// Stopped agents are drawn larger. The units query parameter selects how
// the mean speed is reported.
func (ws *WebServer) handleAgentScatter(w http.ResponseWriter, r *http.Request) {
	unit := r.URL.Query().Get("units")
	if unit == "" {
		unit = units.MPS
	}
	if err := units.Validate(unit); err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, ok := ws.latest()
	if !ok {
		httputil.WriteJSONError(w, http.StatusNotFound, "no frame yet")
		return
	}

	byType := map[string][]opts.ScatterData{}
	var speed float64
	for _, v := range f.Agents {
		speed += r2.Norm(v.Velocity)
		size := 6
		if v.State == agent.Stopped {
			size = 12
		}
		byType[v.Type] = append(byType[v.Type], opts.ScatterData{
			Name:       v.ID,
			Value:      []interface{}{v.Position.X, v.Position.Y},
			SymbolSize: size,
		})
	}

	if len(f.Agents) > 0 {
		speed /= float64(len(f.Agents))
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Agent positions", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Agent positions",
			Subtitle: fmt.Sprintf("frame=%d t=%v agents=%d mean speed=%.1f %s",
				f.Index, f.Elapsed, len(f.Agents), units.ConvertSpeed(speed, unit), units.Label(unit)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: ws.cfg.Width, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		// screen y points down
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: ws.cfg.Height, Name: "Y (m)", NameLocation: "middle", NameGap: 30, Inverse: opts.Bool(true)}),
	)
	for _, t := range sortedKeys(byType) {
		scatter.AddSeries(t, byType[t])
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	ws.writeHTML(w, buf.Bytes())
}

// handleCellBar plots the per-cell totals of a sensor's latest batch, with
// the minimum per-type group as a second series.
func (ws *WebServer) handleCellBar(w http.ResponseWriter, r *http.Request) {
	sensorID, ok := ws.sensorParam(w, r)
	if !ok {
		return
	}
	cells, err := ws.cfg.Store.LatestCells(r.Context(), sensorID)
	if err != nil {
		ws.storeError(w, sensorID, err)
		return
	}
	if len(cells) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("no records for sensor %s", sensorID))
		return
	}

	labels := make([]string, len(cells))
	totals := make([]opts.BarData, len(cells))
	mins := make([]opts.BarData, len(cells))
	anonymous := 0
	for i, c := range cells {
		labels[i] = strconv.FormatUint(c.CellID, 10)
		totals[i] = opts.BarData{Value: c.Total}
		mins[i] = opts.BarData{Value: c.MinGroupSize}
		if c.KAnonymous {
			anonymous++
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Cell totals", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Cell totals",
			Subtitle: fmt.Sprintf("sensor=%s at %s cells=%d k-anonymous=%d", sensorID, cells[0].Timestamp, len(cells), anonymous),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "cell"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "agents"}),
	)
	bar.SetXAxis(labels).
		AddSeries("total", totals).
		AddSeries("smallest group", mins)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	ws.writeHTML(w, buf.Bytes())
}

// handleCellSeries plots the number of agents a sensor saw over time,
// summed across its cells.
func (ws *WebServer) handleCellSeries(w http.ResponseWriter, r *http.Request) {
	sensorID, ok := ws.sensorParam(w, r)
	if !ok {
		return
	}
	points, err := ws.cfg.Store.CellSeries(r.Context(), sensorID)
	if err != nil {
		ws.storeError(w, sensorID, err)
		return
	}
	if len(points) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("no records for sensor %s", sensorID))
		return
	}

	stamps, sums := SumByTimestamp(points)
	data := make([]opts.LineData, len(sums))
	for i, s := range sums {
		data[i] = opts.LineData{Value: s}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Agents over time", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Agents seen over time",
			Subtitle: fmt.Sprintf("sensor=%s batches=%d", sensorID, len(stamps)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(stamps).AddSeries("agents", data)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	ws.writeHTML(w, buf.Bytes())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
