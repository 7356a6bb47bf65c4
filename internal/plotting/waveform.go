// Package plotting renders dataset waveforms and coordinates for quick
// inspection: PNG line plots through gonum/plot and HTML scatter maps through
// go-echarts.
package plotting

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/seisbench/internal/order"
)

// WaveformPlot builds a line plot of a (channels, samples) waveform with one
// line per channel. labels names the channels in row order, e.g. "ZNE"; each
// channel is offset vertically so the traces do not overlap.
func WaveformPlot(title string, wf mat.Matrix, labels string) (*plot.Plot, error) {
	channels, samples := wf.Dims()
	names := order.Split(labels)
	if len(names) != channels {
		return nil, fmt.Errorf("waveform has %d channels, labels %q name %d", channels, labels, len(names))
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Sample"
	p.Y.Label.Text = "Amplitude (offset per channel)"

	// Offset channels by twice the largest absolute amplitude.
	peak := 0.0
	for i := 0; i < channels; i++ {
		for j := 0; j < samples; j++ {
			peak = max(peak, math.Abs(wf.At(i, j)))
		}
	}
	spacing := 2 * peak
	if spacing == 0 {
		spacing = 1
	}

	colors := generateColors(channels)
	for i := 0; i < channels; i++ {
		pts := make(plotter.XYs, samples)
		offset := float64(channels-1-i) * spacing
		for j := range pts {
			pts[j] = plotter.XY{X: float64(j), Y: wf.At(i, j) + offset}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(names[i], line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WaveformPNG saves WaveformPlot to path. The image format follows the file
// extension.
func WaveformPNG(path, title string, wf mat.Matrix, labels string) error {
	p, err := WaveformPlot(title, wf, labels)
	if err != nil {
		return err
	}
	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save waveform plot: %w", err)
	}
	return nil
}

// generateColors creates a palette of distinct colors for channel lines
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		return uint8(l * 255), uint8(l * 255), uint8(l * 255)
	}
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	switch {
	case t < 0:
		t += 1
	case t > 1:
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
