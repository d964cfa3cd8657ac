// Package heatmap renders the density of a session's gaze observations.
package heatmap

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/vision"
)

const (
	DefaultBinsX    = 64
	DefaultBinsY    = 48
	DefaultCellSize = 10
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("no gaze observations")

// Options controls binning and rendering.
type Options struct {
	BinsX    int
	BinsY    int
	CellSize int
}

func (o Options) withDefaults() Options {
	if o.BinsX <= 0 {
		o.BinsX = DefaultBinsX
	}
	if o.BinsY <= 0 {
		o.BinsY = DefaultBinsY
	}
	if o.CellSize <= 0 {
		o.CellSize = DefaultCellSize
	}
	return o
}

// Grid is a 2D histogram stored row-major by Y bin, so Counts[y][x].
type Grid struct {
	Counts [][]int
	Max    int
	MinX   float64
	MaxX   float64
	MinY   float64
	MaxY   float64
}

// Histogram bins observations over their own min..max range. The last bin on
// each axis is closed, and a degenerate axis is widened by 0.5 each side.
func Histogram(obs []vision.GazeObservation, binsX, binsY int) (Grid, error) {
	obs = finiteOnly(obs)
	if len(obs) == 0 {
		return Grid{}, ErrNoData
	}
	if binsX <= 0 || binsY <= 0 {
		return Grid{}, fmt.Errorf("invalid bin count %dx%d", binsX, binsY)
	}

	minX, maxX := obs[0].X, obs[0].X
	minY, maxY := obs[0].Y, obs[0].Y
	for _, o := range obs[1:] {
		minX, maxX = math.Min(minX, o.X), math.Max(maxX, o.X)
		minY, maxY = math.Min(minY, o.Y), math.Max(maxY, o.Y)
	}
	minX, maxX = widen(minX, maxX)
	minY, maxY = widen(minY, maxY)

	counts := make([][]int, binsY)
	for i := range counts {
		counts[i] = make([]int, binsX)
	}

	grid := Grid{Counts: counts, MinX: minX, MaxX: maxX, MinY: minY, MaxY: maxY}
	for _, o := range obs {
		x := bin(o.X, minX, maxX, binsX)
		y := bin(o.Y, minY, maxY, binsY)
		counts[y][x]++
		if counts[y][x] > grid.Max {
			grid.Max = counts[y][x]
		}
	}
	return grid, nil
}

func widen(lo, hi float64) (float64, float64) {
	if lo == hi {
		return lo - 0.5, hi + 0.5
	}
	return lo, hi
}

func bin(v, lo, hi float64, n int) int {
	i := int((v - lo) / (hi - lo) * float64(n))
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

var jetStops = []struct {
	at float64
	c  colorful.Color
}{
	{0, colorful.Color{R: 0, G: 0, B: 0.5}},
	{0.125, colorful.Color{R: 0, G: 0, B: 1}},
	{0.375, colorful.Color{R: 0, G: 1, B: 1}},
	{0.625, colorful.Color{R: 1, G: 1, B: 0}},
	{0.875, colorful.Color{R: 1, G: 0, B: 0}},
	{1, colorful.Color{R: 0.5, G: 0, B: 0}},
}

// Jet maps t in [0,1] onto the jet colormap.
func Jet(t float64) color.RGBA {
	t = math.Max(0, math.Min(1, t))
	for i := 1; i < len(jetStops); i++ {
		lo, hi := jetStops[i-1], jetStops[i]
		if t <= hi.at {
			c := lo.c.BlendRgb(hi.c, (t-lo.at)/(hi.at-lo.at)).Clamped()
			r, g, b := c.RGB255()
			return color.RGBA{R: r, G: g, B: b, A: 0xff}
		}
	}
	r, g, b := jetStops[len(jetStops)-1].c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// Render paints the grid with each bin as a cellSize square, Y bin 0 on top.
func Render(grid Grid, cellSize int) *image.RGBA {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	rows := len(grid.Counts)
	cols := 0
	if rows > 0 {
		cols = len(grid.Counts[0])
	}

	img := image.NewRGBA(image.Rect(0, 0, cols*cellSize, rows*cellSize))
	for y, row := range grid.Counts {
		for x, count := range row {
			t := 0.0
			if grid.Max > 0 {
				t = float64(count) / float64(grid.Max)
			}
			c := Jet(t)
			for py := y * cellSize; py < (y+1)*cellSize; py++ {
				for px := x * cellSize; px < (x+1)*cellSize; px++ {
					img.SetRGBA(px, py, c)
				}
			}
		}
	}
	return img
}

// Encode writes the heatmap of obs as PNG.
func Encode(w io.Writer, obs []vision.GazeObservation, opts Options) error {
	opts = opts.withDefaults()
	grid, err := Histogram(obs, opts.BinsX, opts.BinsY)
	if err != nil {
		return err
	}
	if err := png.Encode(w, Render(grid, opts.CellSize)); err != nil {
		return fmt.Errorf("encode heatmap: %w", err)
	}
	return nil
}

// Generate writes the heatmap to path, replacing any previous file. With no
// observations it returns ErrNoData and leaves path untouched.
func Generate(path string, obs []vision.GazeObservation, opts Options) error {
	if len(finiteOnly(obs)) == 0 {
		return ErrNoData
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create heatmap: %w", err)
	}
	if err := Encode(f, obs, opts); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close heatmap: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace heatmap: %w", err)
	}
	return nil
}

// finiteOnly drops observations with a NaN or infinite coordinate.
func finiteOnly(obs []vision.GazeObservation) []vision.GazeObservation {
	out := obs[:0:0]
	for _, o := range obs {
		if math.IsNaN(o.X) || math.IsNaN(o.Y) || math.IsInf(o.X, 0) || math.IsInf(o.Y, 0) {
			continue
		}
		out = append(out, o)
	}
	return out
}
