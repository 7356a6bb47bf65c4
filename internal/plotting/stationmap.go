package plotting

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Points is a named set of coordinates in degrees.
type Points struct {
	Name       string
	Latitudes  []float64
	Longitudes []float64
}

// StationMap renders an HTML scatter chart of longitude against latitude, one
// series per point set. Points with a NaN coordinate are skipped.
func StationMap(w io.Writer, title string, sets ...Points) error {
	scatter := charts.NewScatter()
	total := 0
	series := make([][]opts.ScatterData, len(sets))
	for i, set := range sets {
		if len(set.Latitudes) != len(set.Longitudes) {
			return fmt.Errorf("%s: %d latitudes for %d longitudes", set.Name, len(set.Latitudes), len(set.Longitudes))
		}
		data := make([]opts.ScatterData, 0, len(set.Latitudes))
		for j, lat := range set.Latitudes {
			lon := set.Longitudes[j]
			if math.IsNaN(lat) || math.IsNaN(lon) {
				continue
			}
			data = append(data, opts.ScatterData{Value: []interface{}{lon, lat}})
		}
		series[i] = data
		total += len(data)
	}

	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("points=%d", total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -180, Max: 180, Name: "Longitude (°)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -90, Max: 90, Name: "Latitude (°)", NameLocation: "middle", NameGap: 30}),
	)
	for i, set := range sets {
		scatter.AddSeries(set.Name, series[i], charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	}

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("render station map: %w", err)
	}
	return nil
}
