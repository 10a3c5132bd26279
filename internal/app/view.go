package app

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/stevenijones/reactcarwashsim/internal/params"
	"github.com/stevenijones/reactcarwashsim/internal/results"
	"github.com/stevenijones/reactcarwashsim/internal/run"
)

var (
	chromeBG        = lipgloss.Color("#05090C")
	panelBorder     = lipgloss.Color("#2D6A80")
	accentPrimary   = lipgloss.Color("#50E3C2")
	accentSecondary = lipgloss.Color("#F6AE2D")
	mutedText       = lipgloss.Color("#8CA1AE")
	warningText     = lipgloss.Color("#FF6B6B")
)

var (
	headerStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Bold(true).
			Foreground(accentPrimary)

	subHeaderStyle = lipgloss.NewStyle().
			Foreground(mutedText)

	statusStyle = lipgloss.NewStyle().
			Foreground(accentSecondary).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(warningText).
			Bold(true)

	panelTitleStyle = lipgloss.NewStyle().
			Foreground(accentPrimary).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(panelBorder).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedText)

	fieldLabelStyle = lipgloss.NewStyle().
			Foreground(mutedText)

	fieldInvalidStyle = lipgloss.NewStyle().
				Foreground(warningText).
				Bold(true)

	metricValueStyle = lipgloss.NewStyle().
				Foreground(accentPrimary).
				Bold(true)

	historySelectedLineStyle = lipgloss.NewStyle().
					Foreground(accentPrimary).
					Bold(true)
)

const paramsLabelWidth = 18

func (m Model) View() string {
	if !m.ready {
		return "Booting carwash-tui..."
	}

	innerWidth := maxInt(40, m.width-2)
	innerHeight := maxInt(12, m.height-2)

	header := headerStyle.Render("Car Wash Simulator")
	if m.engineLabel != "" {
		header += subHeaderStyle.Render("engine " + m.engineLabel)
	}

	paramsPanel := renderPanel(
		"Parameters",
		m.renderParams(),
		m.paramsW,
		m.topH,
		m.focusPane == paneParams,
	)
	summaryPanel := renderPanel(
		m.summaryTitle(),
		m.summary.View(),
		m.summaryW,
		m.topH,
		m.focusPane == paneSummary,
	)
	topRow := lipgloss.JoinHorizontal(lipgloss.Top, paramsPanel, summaryPanel)

	var series []results.Series
	if result := m.displayedResult(); result != nil {
		series = result.AllSeries()
	} else {
		series = []results.Series{
			{Name: results.SeriesQueue},
			{Name: results.SeriesActiveWashes},
			{Name: results.SeriesLostCars},
		}
	}
	chartPanels := make([]string, 0, len(series))
	for idx, s := range series {
		body := mutedTextStyle("no results yet")
		if m.displayedResult() != nil {
			body = renderSeriesChart(s, maxInt(8, m.chartW-4), maxInt(2, m.chartH-2), chartPalettes[idx%len(chartPalettes)])
		}
		chartPanels = append(chartPanels, renderPanel(s.Title(), body, m.chartW, m.chartH, false))
	}
	chartRow := lipgloss.JoinHorizontal(lipgloss.Top, chartPanels...)

	historyPanel := renderPanel(
		"Run History",
		m.history.View(),
		m.historyW,
		m.historyH,
		m.focusPane == paneHistory,
	)

	parts := []string{header, m.renderStatusLine()}
	if m.showParamsPathPrompt {
		promptWidth := clampInt(innerWidth-4, 42, 90)
		listRows := m.paramsPathListVisibleRows()
		promptHeight := clampInt(9+listRows, 12, maxInt(12, innerHeight-2))
		promptBody := strings.Join([]string{
			"Path to local JSON parameters file:",
			m.paramsPathInput.View(),
			"",
			".json files in current directory:",
			m.renderParamsPathChoices(listRows),
			"",
			"up/down select | enter load | esc cancel",
		}, "\n")
		parts = append(parts, renderPanel("Load Parameters File", promptBody, promptWidth, promptHeight, true))
	}
	parts = append(parts, topRow, chartRow, historyPanel)
	if m.showHelp {
		help := "ctrl+r run | ctrl+o load params | ctrl+d defaults | tab/shift+tab cycle panes | up/down move | enter open history item | esc close saved run | ctrl+c quit"
		parts = append(parts, helpStyle.Render(truncateText(help, innerWidth-2)))
	}

	body := strings.Join(parts, "\n")
	body = fitTextHeight(body, innerHeight)
	return lipgloss.NewStyle().
		Background(chromeBG).
		Foreground(lipgloss.Color("#E8F0F2")).
		Width(innerWidth).
		Height(innerHeight).
		Padding(0, 1).
		Render(body)
}

func (m Model) renderStatusLine() string {
	if strings.TrimSpace(m.errorText) != "" {
		return errorStyle.Render(m.errorText)
	}
	state := m.controller.State()
	switch {
	case state.Phase == run.PhaseRunning:
		return statusStyle.Render(fmt.Sprintf("%s Running simulation #%d...", m.spinner.View(), state.ID))
	case state.Phase == run.PhaseFailed && state.Outcome != nil && state.Outcome.Failure != nil && m.viewing == nil:
		return errorStyle.Render(state.Outcome.Failure.Message)
	}
	statusBody := strings.TrimSpace(m.statusText)
	if statusBody == "" {
		statusBody = "Ready"
	}
	return statusStyle.Render("* " + statusBody)
}

// invalidField is the field named by the current validation failure, if any.
func (m Model) invalidField() (params.Field, bool) {
	state := m.controller.State()
	if state.Phase != run.PhaseFailed || state.Outcome == nil || state.Outcome.Failure == nil {
		return "", false
	}
	failure := state.Outcome.Failure
	if failure.Kind != run.FailureValidation || failure.Field == "" {
		return "", false
	}
	return failure.Field, true
}

func (m Model) renderParams() string {
	invalid, hasInvalid := m.invalidField()
	lines := make([]string, 0, len(params.Fields)+2)
	for idx, field := range params.Fields {
		label := fmt.Sprintf("%-*s", paramsLabelWidth, field.Label())
		if hasInvalid && field == invalid {
			label = fieldInvalidStyle.Render(label)
		} else {
			label = fieldLabelStyle.Render(label)
		}
		cursor := "  "
		if m.focusPane == paneParams && idx == m.inputCursor {
			cursor = "▶ "
		}
		lines = append(lines, cursor+label+m.inputs[idx].View())
	}
	if m.lastParamsPath != "" {
		lines = append(lines, "", mutedTextStyle("from "+filepath.Base(m.lastParamsPath)))
	}
	return strings.Join(lines, "\n")
}

func (m Model) summaryTitle() string {
	if m.viewing != nil {
		return "Saved Run " + m.viewing.Summary.BundleID
	}
	return "Summary"
}

// displayedResult is the saved bundle being viewed, else the current run's
// result when it succeeded.
func (m Model) displayedResult() *results.Result {
	if m.viewing != nil {
		return m.viewing.Result
	}
	state := m.controller.State()
	if state.Phase == run.PhaseSucceeded && state.Outcome != nil {
		return state.Outcome.Result
	}
	return nil
}

func (m *Model) refreshSummary() {
	m.summary.SetContent(m.renderSummary())
	m.summary.GotoTop()
}

func (m Model) renderSummary() string {
	if m.viewing != nil {
		b := m.viewing
		lines := []string{
			fmt.Sprintf("Saved: %s", trimTime(b.Summary.SavedAt)),
			fmt.Sprintf("Params: %s", b.Params.String()),
			"",
		}
		if b.Result != nil {
			lines = append(lines, renderMetrics(b.Result.Metrics)...)
		}
		return strings.Join(lines, "\n")
	}

	state := m.controller.State()
	switch state.Phase {
	case run.PhaseRunning:
		return fmt.Sprintf("Run #%d in progress.\n%s", state.ID, state.Params.String())
	case run.PhaseSucceeded:
		lines := renderMetrics(state.Outcome.Result.Metrics)
		lines = append(lines, "", mutedTextStyle(fmt.Sprintf("Run #%d | %s", state.ID, state.Params.String())))
		return strings.Join(lines, "\n")
	case run.PhaseFailed:
		failure := state.Outcome.Failure
		return strings.Join([]string{
			errorStyle.Render(fmt.Sprintf("Run #%d failed (%s)", state.ID, failure.Kind)),
			failure.Message,
		}, "\n")
	default:
		return "No results yet.\nEdit the parameters and press ctrl+r to run the simulation."
	}
}

func renderMetrics(metrics results.Metrics) []string {
	return []string{
		"Reneged cars:      " + metricValueStyle.Render(results.FormatCount(metrics.RenegedCars)),
		"Average wait time: " + metricValueStyle.Render(results.FormatWait(metrics.AvgWaitTime)),
		"Longest wait time: " + metricValueStyle.Render(results.FormatWait(metrics.LongestWaitTime)),
	}
}

func (m Model) renderParamsPathChoices(visibleRows int) string {
	if len(m.paramsPathChoices) == 0 {
		return mutedTextStyle("No .json files in current directory.")
	}

	visibleRows = maxInt(1, visibleRows)
	start := clampInt(m.paramsPathChoiceOffset, 0, len(m.paramsPathChoices)-1)
	end := minInt(len(m.paramsPathChoices), start+visibleRows)
	if end-start < visibleRows && end > 0 {
		start = maxInt(0, end-visibleRows)
	}

	lines := make([]string, 0, (end-start)+1)
	for idx := start; idx < end; idx++ {
		line := m.paramsPathChoices[idx]
		if idx == m.paramsPathChoiceCursor {
			line = historySelectedLineStyle.Render("▶ " + line)
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	lines = append(lines, mutedTextStyle(fmt.Sprintf("Showing %d-%d of %d", start+1, end, len(m.paramsPathChoices))))
	return strings.Join(lines, "\n")
}

func mutedTextStyle(text string) string {
	return lipgloss.NewStyle().Foreground(mutedText).Render(text)
}

func renderPanel(title, body string, width, height int, focused bool) string {
	borderColor := panelBorder
	if focused {
		borderColor = accentSecondary
	}
	style := panelStyle.Copy().
		BorderForeground(borderColor).
		Width(width).
		Height(height)

	titleLine := panelTitleStyle.Render(title)
	return style.Render(titleLine + "\n" + body)
}

func (m *Model) resizePanels() {
	if m.width <= 0 || m.height <= 0 {
		return
	}

	usableW := maxInt(40, m.width-6)
	innerH := maxInt(12, m.height-2)
	verticalOverhead := 8
	if m.showHelp {
		verticalOverhead = 9
	}
	panelRowsBudget := maxInt(12, innerH-verticalOverhead)

	// The parameter panel needs one row per field plus title and source line.
	m.topH = maxInt(len(params.Fields)+3, int(math.Round(float64(panelRowsBudget)*0.3)))
	m.chartH = maxInt(5, int(math.Round(float64(panelRowsBudget)*0.4)))
	m.historyH = maxInt(3, panelRowsBudget-m.topH-m.chartH)

	paramsW := clampInt(int(math.Round(float64(usableW)*0.4)), paramsLabelWidth+20, maxInt(paramsLabelWidth+20, usableW-24))
	m.paramsW = paramsW
	m.summaryW = maxInt(20, usableW-paramsW-4)
	inputW := maxInt(6, paramsW-paramsLabelWidth-6)
	for idx := range m.inputs {
		m.inputs[idx].Width = inputW
	}

	m.summary.Width = maxInt(16, m.summaryW-2)
	m.summary.Height = maxInt(1, m.topH-1)

	m.chartW = maxInt(14, (usableW-8)/3)

	m.historyW = usableW
	m.history.Width = maxInt(16, usableW-2)
	m.history.Height = maxInt(1, m.historyH-1)
	m.paramsPathInput.Width = clampInt(usableW-22, 20, 78)

	m.refreshSummary()
	m.refreshHistoryView()
}

func (m *Model) refreshHistoryView() {
	if len(m.historyItems) == 0 {
		m.history.SetContent("No saved runs yet.\nSucceeded runs are stored under the runs directory.")
		m.history.SetYOffset(0)
		m.historyCursorTopLine = 0
		m.historyCursorBottomLine = 0
		m.historyRenderedLines = 0
		return
	}

	if m.historyCursor >= len(m.historyItems) {
		m.historyCursor = len(m.historyItems) - 1
	}
	if m.historyCursor < 0 {
		m.historyCursor = 0
	}

	contentWidth := maxInt(1, m.history.Width)
	lines := make([]string, 0, len(m.historyItems))
	m.historyCursorTopLine = 0
	m.historyCursorBottomLine = 0
	for idx, item := range m.historyItems {
		cursor := " "
		if idx == m.historyCursor {
			cursor = "▶"
		}
		line := fmt.Sprintf("%s %s | reneged %s | avg wait %s | %d bays, arrival %s",
			cursor,
			trimTime(item.SavedAt),
			results.FormatCount(item.RenegedCars),
			results.FormatWait(item.AvgWaitTime),
			item.Params.NumSystems,
			item.Params.Raw()[params.FieldArrivalRate],
		)
		wrapped := wrapLineToWidth(line, contentWidth)
		lineTop := len(lines)
		for _, segment := range wrapped {
			if idx == m.historyCursor {
				segment = historySelectedLineStyle.Render(segment)
			}
			lines = append(lines, segment)
		}
		if idx == m.historyCursor {
			m.historyCursorTopLine = lineTop
			m.historyCursorBottomLine = len(lines) - 1
		}
	}
	m.history.SetContent(strings.Join(lines, "\n"))
	m.historyRenderedLines = len(lines)
	m.ensureHistoryCursorVisible()
}

func (m *Model) ensureHistoryCursorVisible() {
	if m.historyRenderedLines == 0 {
		m.history.SetYOffset(0)
		return
	}
	visibleRows := maxInt(1, m.history.Height)
	cursorTop := clampInt(m.historyCursorTopLine, 0, m.historyRenderedLines-1)
	cursorBottom := clampInt(m.historyCursorBottomLine, cursorTop, m.historyRenderedLines-1)
	top := clampInt(m.history.YOffset, 0, m.historyRenderedLines-1)
	bottom := top + visibleRows - 1
	scrollMargin := clampInt(visibleRows/4, 1, 2)
	if cursorTop < top+scrollMargin {
		m.history.SetYOffset(cursorTop - scrollMargin)
		return
	}
	if cursorBottom > bottom-scrollMargin {
		m.history.SetYOffset(cursorBottom - (visibleRows - 1 - scrollMargin))
		return
	}
	m.history.SetYOffset(top)
}

func wrapLineToWidth(line string, width int) []string {
	width = maxInt(1, width)
	runes := []rune(line)
	if len(runes) == 0 {
		return []string{""}
	}
	if len(runes) <= width {
		return []string{line}
	}
	segments := make([]string, 0, (len(runes)/width)+1)
	for start := 0; start < len(runes); start += width {
		end := minInt(len(runes), start+width)
		segments = append(segments, string(runes[start:end]))
	}
	return segments
}

func fitTextHeight(text string, height int) string {
	if height <= 0 {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// trimTime shortens a saved-at timestamp to the second.
func trimTime(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 19 {
		return strings.Replace(raw[:19], "T", " ", 1)
	}
	return raw
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampFloat(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

func clampInt(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
