package monitor

import (
	"cmp"
	"fmt"
	"image/color"
	"slices"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/agentsim/internal/db"
)

// SumByTimestamp totals points per timestamp. Timestamps come back in
// ascending order.
func SumByTimestamp(points []db.CellPoint) (stamps []string, sums []int) {
	idx := map[string]int{}
	for _, p := range points {
		i, ok := idx[p.Timestamp]
		if !ok {
			i = len(stamps)
			idx[p.Timestamp] = i
			stamps = append(stamps, p.Timestamp)
			sums = append(sums, 0)
		}
		sums[i] += p.Total
	}
	order := make([]int, len(stamps))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int { return strings.Compare(stamps[a], stamps[b]) })
	outStamps := make([]string, len(order))
	outSums := make([]int, len(order))
	for i, j := range order {
		outStamps[i], outSums[i] = stamps[j], sums[j]
	}
	return outStamps, outSums
}

// PlotCellSeries writes a PNG with one line per cell showing its total over
// batches, plus the sum across cells. The x axis is the batch number.
// maxCells limits how many cells get their own line; the busiest are kept.
func PlotCellSeries(points []db.CellPoint, sensorID, path string, maxCells int) error {
	if len(points) == 0 {
		return fmt.Errorf("no cell records for sensor %s", sensorID)
	}
	stamps, sums := SumByTimestamp(points)
	batch := make(map[string]int, len(stamps))
	for i, s := range stamps {
		batch[s] = i
	}

	perCell := map[uint64]plotter.XYs{}
	peak := map[uint64]int{}
	for _, p := range points {
		perCell[p.CellID] = append(perCell[p.CellID], plotter.XY{X: float64(batch[p.Timestamp]), Y: float64(p.Total)})
		peak[p.CellID] = max(peak[p.CellID], p.Total)
	}
	cells := make([]uint64, 0, len(perCell))
	for id := range perCell {
		cells = append(cells, id)
	}
	slices.SortFunc(cells, func(a, b uint64) int {
		if peak[a] != peak[b] {
			return peak[b] - peak[a]
		}
		return cmp.Compare(a, b)
	})
	if maxCells > 0 && len(cells) > maxCells {
		cells = cells[:maxCells]
	}
	slices.Sort(cells)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Sensor %s - agents per cell", sensorID)
	p.X.Label.Text = "Batch"
	p.Y.Label.Text = "Agents"

	colors := generateColors(len(cells))
	for i, id := range cells {
		line, err := plotter.NewLine(perCell[id])
		if err != nil {
			return err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("cell %d", id), line)
	}

	total := make(plotter.XYs, len(sums))
	for i, s := range sums {
		total[i] = plotter.XY{X: float64(i), Y: float64(s)}
	}
	totalLine, err := plotter.NewLine(total)
	if err != nil {
		return err
	}
	totalLine.Color = color.Black
	totalLine.Width = vg.Points(2)
	p.Add(totalLine)
	p.Legend.Add("total", totalLine)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save cell plot: %w", err)
	}
	return nil
}

// generateColors creates a palette of distinct colours.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
