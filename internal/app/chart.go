package app

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/stevenijones/reactcarwashsim/internal/results"
)

const chartGlyphsRaw = "▁▂▃▄▅▆▇█"

var (
	chartBandBG  = lipgloss.Color("#13232C")
	queuePalette = []lipgloss.Color{
		lipgloss.Color("#2B7EA1"),
		lipgloss.Color("#20B6D9"),
		lipgloss.Color("#44E7AE"),
		lipgloss.Color("#D8F26F"),
		lipgloss.Color("#F6AE2D"),
		lipgloss.Color("#FF6B6B"),
	}
	washPalette = []lipgloss.Color{
		lipgloss.Color("#1E7E9A"),
		lipgloss.Color("#2DBBD3"),
		lipgloss.Color("#6AE18A"),
		lipgloss.Color("#C8EE63"),
		lipgloss.Color("#F0C74B"),
		lipgloss.Color("#FF8E53"),
	}
	lostPalette = []lipgloss.Color{
		lipgloss.Color("#287B8E"),
		lipgloss.Color("#30BFA5"),
		lipgloss.Color("#72DF7A"),
		lipgloss.Color("#C6EB5A"),
		lipgloss.Color("#EFB94D"),
		lipgloss.Color("#FF8A65"),
	}
	chartPalettes = [][]lipgloss.Color{queuePalette, washPalette, lostPalette}
)

// bucketSeries reduces samples to width columns spread over the sampled time
// range. Each column holds the largest value that fell into it; columns with
// no samples repeat the previous column, since the series is a step function.
// Without samples every column is NaN.
func bucketSeries(samples []results.Sample, width int) []float64 {
	width = maxInt(1, width)
	columns := make([]float64, width)
	for idx := range columns {
		columns[idx] = math.NaN()
	}
	if len(samples) == 0 {
		return columns
	}

	tMin, tMax := samples[0].Time, samples[0].Time
	for _, s := range samples[1:] {
		tMin = math.Min(tMin, s.Time)
		tMax = math.Max(tMax, s.Time)
	}
	span := tMax - tMin

	filled := make([]bool, width)
	for _, s := range samples {
		col := width - 1
		if span > 0 {
			col = clampInt(int((s.Time-tMin)/span*float64(width-1)+0.5), 0, width-1)
		}
		if !filled[col] || s.Value > columns[col] {
			columns[col] = s.Value
			filled[col] = true
		}
	}
	for idx := 1; idx < width; idx++ {
		if !filled[idx] && !math.IsNaN(columns[idx-1]) {
			columns[idx] = columns[idx-1]
		}
	}
	return columns
}

// renderSeriesChart draws the series as a bar chart height rows tall, with a
// footer line giving the time range and peak value.
func renderSeriesChart(series results.Series, width, height int, palette []lipgloss.Color) string {
	width = maxInt(4, width)
	height = maxInt(1, height)
	if series.Len() == 0 {
		return fitTextHeight(mutedTextStyle("no samples"), height+1)
	}

	columns := bucketSeries(series.Samples, width)
	peak := 0.0
	for _, v := range columns {
		if !math.IsNaN(v) {
			peak = math.Max(peak, v)
		}
	}

	glyphs := []rune(chartGlyphsRaw)
	steps := len(glyphs)
	styles := chartStyles(palette)
	blank := lipgloss.NewStyle().Background(chartBandBG).Render(" ")

	rows := make([][]string, height)
	for r := range rows {
		rows[r] = make([]string, width)
		for c := range rows[r] {
			rows[r][c] = blank
		}
	}
	for c, v := range columns {
		if math.IsNaN(v) || v <= 0 || peak <= 0 {
			continue
		}
		frac := clampFloat(v/peak, 0, 1)
		level := maxInt(1, int(math.Round(frac*float64(height*steps))))
		style := styles[clampInt(int(math.Round(frac*float64(len(styles)-1))), 0, len(styles)-1)]
		for r := 0; r < height && level > 0; r++ {
			row := height - 1 - r
			n := minInt(level, steps)
			rows[row][c] = style.Render(string(glyphs[n-1]))
			level -= n
		}
	}

	lines := make([]string, 0, height+1)
	for _, row := range rows {
		lines = append(lines, strings.Join(row, ""))
	}
	first, last := series.Samples[0].Time, series.Samples[0].Time
	for _, s := range series.Samples {
		first = math.Min(first, s.Time)
		last = math.Max(last, s.Time)
	}
	footer := fmt.Sprintf("t %s-%s | peak %s | n=%d", formatAxis(first), formatAxis(last), formatAxis(peak), series.Len())
	lines = append(lines, mutedTextStyle(truncateText(footer, width)))
	return strings.Join(lines, "\n")
}

func chartStyles(palette []lipgloss.Color) []lipgloss.Style {
	if len(palette) == 0 {
		palette = queuePalette
	}
	styles := make([]lipgloss.Style, len(palette))
	for idx, color := range palette {
		styles[idx] = lipgloss.NewStyle().
			Foreground(color).
			Background(chartBandBG)
	}
	return styles
}

func formatAxis(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e12 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func truncateText(raw string, maxLen int) string {
	if maxLen < 4 {
		maxLen = 4
	}
	runes := []rune(raw)
	if len(runes) <= maxLen {
		return raw
	}
	return string(runes[:maxLen-3]) + "..."
}
