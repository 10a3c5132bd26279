package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stevenijones/reactcarwashsim/internal/params"
	"github.com/stevenijones/reactcarwashsim/internal/results"
	"github.com/stevenijones/reactcarwashsim/internal/run"
	"github.com/stevenijones/reactcarwashsim/internal/storage"
)

type historyLoadedMsg struct {
	items []storage.RunSummary
	err   error
}

type paramsFileLoadedMsg struct {
	path   string
	values map[params.Field]string
	err    error
}

// runResolvedMsg reports that the attempt for runID has settled. The outcome
// itself is read back from the controller.
type runResolvedMsg struct {
	runID uint64
}

type bundleSavedMsg struct {
	runID   uint64
	summary storage.RunSummary
	err     error
}

type bundleLoadedMsg struct {
	bundle *storage.RunBundle
	err    error
}

type focusPane int

const (
	paneParams focusPane = iota
	paneSummary
	paneHistory
)

const historyLimit = 200

type ModelOptions struct {
	InitialParams     map[params.Field]string
	InitialParamsPath string
	// EngineLabel is shown in the header, typically the engine endpoint.
	EngineLabel string
	Logger      *slog.Logger
}

type Model struct {
	controller *run.Controller
	params     *params.Store
	store      *storage.Store
	logger     *slog.Logger

	ready  bool
	width  int
	height int

	inputs          [len(params.Fields)]textinput.Model
	inputCursor     int
	summary         viewport.Model
	history         viewport.Model
	spinner         spinner.Model
	paramsPathInput textinput.Model

	focusPane   focusPane
	showHelp    bool
	engineLabel string

	statusText             string
	errorText              string
	showParamsPathPrompt   bool
	lastParamsPath         string
	paramsPathChoices      []string
	paramsPathChoiceCursor int
	paramsPathChoiceOffset int

	// awaitingRunID is the run whose resolution the view is waiting on.
	awaitingRunID uint64
	savedRunID    uint64
	viewing       *storage.RunBundle

	historyItems            []storage.RunSummary
	historyCursor           int
	historyCursorTopLine    int
	historyCursorBottomLine int
	historyRenderedLines    int

	paramsW  int
	topH     int
	summaryW int
	chartW   int
	chartH   int
	historyW int
	historyH int
}

func NewModel(controller *run.Controller, paramStore *params.Store, store *storage.Store) Model {
	return NewModelWithOptions(controller, paramStore, store, ModelOptions{})
}

func NewModelWithOptions(controller *run.Controller, paramStore *params.Store, store *storage.Store, opts ModelOptions) Model {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	summary := viewport.New(50, 8)
	history := viewport.New(60, 6)
	history.SetContent("No saved runs yet.")

	spin := spinner.New()
	spin.Spinner = spinner.MiniDot
	spin.Style = lipgloss.NewStyle().Foreground(accentSecondary)

	pathInput := textinput.New()
	pathInput.Prompt = "> "
	pathInput.Placeholder = "./params.json"
	pathInput.CharLimit = 2048
	pathInput.Width = 70

	model := Model{
		controller:      controller,
		params:          paramStore,
		store:           store,
		logger:          logger,
		summary:         summary,
		history:         history,
		spinner:         spin,
		paramsPathInput: pathInput,
		focusPane:       paneParams,
		showHelp:        true,
		engineLabel:     strings.TrimSpace(opts.EngineLabel),
		statusText:      "Ready. Edit parameters and press ctrl+r to run.",
		paramsW:         44,
		topH:            7,
		summaryW:        54,
		chartW:          32,
		chartH:          8,
		historyW:        100,
		historyH:        6,
	}

	for idx := range model.inputs {
		input := textinput.New()
		input.Prompt = ""
		input.CharLimit = 32
		input.Width = 14
		model.inputs[idx] = input
	}

	if len(opts.InitialParams) > 0 {
		if err := applyParams(paramStore, opts.InitialParams); err != nil {
			model.errorText = "Startup params rejected: " + err.Error()
		} else if path := strings.TrimSpace(opts.InitialParamsPath); path != "" {
			model.lastParamsPath = path
			model.statusText = "Loaded startup parameters from " + path
		} else {
			model.statusText = "Loaded startup parameters."
		}
	}
	model.syncInputsFromStore()
	model.applyFocusState()
	model.refreshSummary()
	return model
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		loadHistoryCmd(m.store),
	)
}

func loadHistoryCmd(store *storage.Store) tea.Cmd {
	if store == nil {
		return nil
	}
	return func() tea.Msg {
		items, err := store.List(historyLimit)
		return historyLoadedMsg{items: items, err: err}
	}
}

func loadParamsFileCmd(path string) tea.Cmd {
	requestedPath := strings.TrimSpace(path)
	return func() tea.Msg {
		values, resolvedPath, err := LoadParamsFile(requestedPath)
		if err != nil {
			return paramsFileLoadedMsg{path: requestedPath, err: err}
		}
		return paramsFileLoadedMsg{path: resolvedPath, values: values}
	}
}

// executeRunCmd performs the attempt's single request off the update loop.
func executeRunCmd(attempt *run.Attempt) tea.Cmd {
	return func() tea.Msg {
		attempt.Execute(context.Background())
		return runResolvedMsg{runID: attempt.ID()}
	}
}

func saveBundleCmd(store *storage.Store, runID uint64, p params.RunParameters, result *results.Result) tea.Cmd {
	return func() tea.Msg {
		summary, err := store.SaveRun(p, result)
		return bundleSavedMsg{runID: runID, summary: summary, err: err}
	}
}

func loadBundleCmd(store *storage.Store, directory string) tea.Cmd {
	return func() tea.Msg {
		bundle, err := store.LoadBundle(directory)
		return bundleLoadedMsg{bundle: bundle, err: err}
	}
}

func listJSONFilesInDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.TrimSpace(entry.Name())
		if name == "" {
			continue
		}
		if strings.EqualFold(filepath.Ext(name), ".json") {
			files = append(files, name)
		}
	}

	sort.Slice(files, func(i, j int) bool {
		li := strings.ToLower(files[i])
		lj := strings.ToLower(files[j])
		if li == lj {
			return files[i] < files[j]
		}
		return li < lj
	})
	return files, nil
}

func (m *Model) paramsPathListVisibleRows() int {
	if m.height <= 0 {
		return 6
	}
	return clampInt(m.height/6, 4, 10)
}

func (m *Model) ensureParamsPathChoiceVisible() {
	if len(m.paramsPathChoices) == 0 {
		m.paramsPathChoiceCursor = 0
		m.paramsPathChoiceOffset = 0
		return
	}

	m.paramsPathChoiceCursor = clampInt(m.paramsPathChoiceCursor, 0, len(m.paramsPathChoices)-1)
	visibleRows := maxInt(1, m.paramsPathListVisibleRows())
	maxOffset := maxInt(0, len(m.paramsPathChoices)-visibleRows)
	m.paramsPathChoiceOffset = clampInt(m.paramsPathChoiceOffset, 0, maxOffset)

	if m.paramsPathChoiceCursor < m.paramsPathChoiceOffset {
		m.paramsPathChoiceOffset = m.paramsPathChoiceCursor
	}
	if m.paramsPathChoiceCursor >= m.paramsPathChoiceOffset+visibleRows {
		m.paramsPathChoiceOffset = m.paramsPathChoiceCursor - visibleRows + 1
	}
	m.paramsPathChoiceOffset = clampInt(m.paramsPathChoiceOffset, 0, maxOffset)
}

func (m *Model) setParamsPathChoiceCursor(cursor int) {
	if len(m.paramsPathChoices) == 0 {
		m.paramsPathChoiceCursor = 0
		m.paramsPathChoiceOffset = 0
		return
	}
	m.paramsPathChoiceCursor = clampInt(cursor, 0, len(m.paramsPathChoices)-1)
	m.ensureParamsPathChoiceVisible()
	m.paramsPathInput.SetValue(m.paramsPathChoices[m.paramsPathChoiceCursor])
	m.paramsPathInput.CursorEnd()
}

func (m *Model) syncParamsPathChoiceToInput() {
	if len(m.paramsPathChoices) == 0 {
		return
	}
	input := strings.TrimSpace(m.paramsPathInput.Value())
	if input == "" {
		return
	}
	inputBase := filepath.Base(input)
	for idx, choice := range m.paramsPathChoices {
		if choice == input || choice == inputBase {
			m.paramsPathChoiceCursor = idx
			m.ensureParamsPathChoiceVisible()
			return
		}
	}
}

func (m *Model) refreshParamsPathChoices() error {
	choices, err := listJSONFilesInDir(".")
	if err != nil {
		m.paramsPathChoices = nil
		m.paramsPathChoiceCursor = 0
		m.paramsPathChoiceOffset = 0
		return err
	}

	m.paramsPathChoices = choices
	m.paramsPathChoiceCursor = 0
	m.paramsPathChoiceOffset = 0
	if len(choices) == 0 {
		return nil
	}

	desired := strings.TrimSpace(m.paramsPathInput.Value())
	if desired == "" {
		desired = strings.TrimSpace(m.lastParamsPath)
	}
	desiredBase := filepath.Base(desired)
	for idx, choice := range choices {
		if choice == desired || choice == desiredBase {
			m.paramsPathChoiceCursor = idx
			break
		}
	}
	m.ensureParamsPathChoiceVisible()

	if strings.TrimSpace(m.paramsPathInput.Value()) == "" {
		m.paramsPathInput.SetValue(m.paramsPathChoices[m.paramsPathChoiceCursor])
		m.paramsPathInput.CursorEnd()
	}
	return nil
}

// syncInputsFromStore copies the store's raw text into the input widgets.
func (m *Model) syncInputsFromStore() {
	values := m.params.Values()
	for idx, field := range params.Fields {
		m.inputs[idx].SetValue(values[field])
		m.inputs[idx].CursorEnd()
	}
}

func (m *Model) setInputCursor(cursor int) {
	m.inputCursor = clampInt(cursor, 0, len(m.inputs)-1)
	m.applyFocusState()
}

// submitRun asks the controller for a new run. Submitting while a run is in
// flight has no effect.
func (m *Model) submitRun() tea.Cmd {
	attempt, err := m.controller.Submit()
	if errors.Is(err, run.ErrRunInFlight) {
		return nil
	}
	m.viewing = nil
	m.errorText = ""
	if err != nil {
		var vErr *params.ValidationError
		if errors.As(err, &vErr) {
			for idx, field := range params.Fields {
				if field == vErr.Field {
					m.focusPane = paneParams
					m.setInputCursor(idx)
				}
			}
		}
		m.statusText = ""
		m.refreshSummary()
		return nil
	}

	m.awaitingRunID = attempt.ID()
	m.statusText = fmt.Sprintf("Run #%d submitted", attempt.ID())
	m.logger.Debug("run dispatched from view", "run_id", attempt.ID())
	m.refreshSummary()
	return tea.Batch(m.spinner.Tick, executeRunCmd(attempt))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resizePanels()
		m.applyFocusState()
		if m.showParamsPathPrompt {
			m.ensureParamsPathChoiceVisible()
		}
		return m, nil

	case spinner.TickMsg:
		if m.controller.State().Phase != run.PhaseRunning {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case runResolvedMsg:
		state := m.controller.State()
		if msg.runID != state.ID || msg.runID != m.awaitingRunID {
			m.logger.Debug("ignoring resolution for superseded run", "run_id", msg.runID, "current_run_id", state.ID)
			return m, nil
		}
		m.awaitingRunID = 0
		m.refreshSummary()
		switch state.Phase {
		case run.PhaseSucceeded:
			m.statusText = fmt.Sprintf("Run #%d succeeded in %s", state.ID, formatElapsed(state.Elapsed()))
			if m.store != nil && m.savedRunID != state.ID {
				m.savedRunID = state.ID
				return m, saveBundleCmd(m.store, state.ID, state.Params, state.Outcome.Result)
			}
		case run.PhaseFailed:
			m.statusText = ""
		}
		return m, nil

	case historyLoadedMsg:
		if msg.err != nil {
			m.errorText = "Failed to load run history: " + msg.err.Error()
			return m, nil
		}
		m.historyItems = append([]storage.RunSummary(nil), msg.items...)
		sort.SliceStable(m.historyItems, func(i, j int) bool {
			return m.historyItems[i].SavedAt > m.historyItems[j].SavedAt
		})
		if m.historyCursor >= len(m.historyItems) {
			m.historyCursor = maxInt(0, len(m.historyItems)-1)
		}
		m.refreshHistoryView()
		return m, nil

	case paramsFileLoadedMsg:
		m.showParamsPathPrompt = false
		m.paramsPathInput.Blur()
		m.applyFocusState()
		if msg.err != nil {
			m.errorText = "Params file load failed: " + msg.err.Error()
			return m, tea.ClearScreen
		}
		if err := applyParams(m.params, msg.values); err != nil {
			m.errorText = "Params file load failed: " + err.Error()
			return m, tea.ClearScreen
		}
		m.syncInputsFromStore()
		m.lastParamsPath = strings.TrimSpace(msg.path)
		m.errorText = ""
		if m.lastParamsPath != "" {
			m.statusText = "Loaded parameters from " + m.lastParamsPath
		} else {
			m.statusText = "Loaded parameters."
		}
		return m, tea.ClearScreen

	case bundleSavedMsg:
		if msg.err != nil {
			m.errorText = "Could not save run bundle: " + msg.err.Error()
			return m, nil
		}
		if msg.runID == m.controller.State().ID {
			m.statusText = fmt.Sprintf("Run #%d saved as %s", msg.runID, filepath.Base(msg.summary.Directory))
		}
		return m, loadHistoryCmd(m.store)

	case bundleLoadedMsg:
		if msg.err != nil {
			m.errorText = "Could not load bundle: " + msg.err.Error()
			return m, nil
		}
		if m.controller.State().Phase == run.PhaseRunning {
			return m, nil
		}
		m.viewing = msg.bundle
		m.errorText = ""
		m.statusText = fmt.Sprintf("Viewing saved run %s (esc to close)", filepath.Base(msg.bundle.Summary.Directory))
		m.refreshSummary()
		return m, nil

	case tea.KeyMsg:
		if m.showParamsPathPrompt {
			return m.updateParamsPathPrompt(msg)
		}

		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "q":
			if m.focusPane != paneParams {
				return m, tea.Quit
			}
		case "tab":
			m.focusPane = nextFocusPane(m.focusPane)
			m.applyFocusState()
			return m, nil
		case "shift+tab", "backtab":
			m.focusPane = prevFocusPane(m.focusPane)
			m.applyFocusState()
			return m, nil
		case "?":
			m.showHelp = !m.showHelp
			m.resizePanels()
			return m, nil
		case "ctrl+r":
			return m, m.submitRun()
		case "ctrl+o":
			m.showParamsPathPrompt = true
			m.paramsPathInput.SetValue(m.lastParamsPath)
			m.paramsPathInput.CursorEnd()
			if err := m.refreshParamsPathChoices(); err != nil {
				m.errorText = "Could not list .json files in current directory: " + err.Error()
			} else {
				m.errorText = ""
			}
			m.statusText = "Choose a JSON file with up/down or type a path, then press Enter."
			m.applyFocusState()
			return m, nil
		case "ctrl+d":
			if m.controller.State().Phase == run.PhaseRunning {
				return m, nil
			}
			m.params.Load(params.Defaults())
			m.syncInputsFromStore()
			m.controller.Reset()
			m.viewing = nil
			m.errorText = ""
			m.statusText = "Defaults restored."
			m.refreshSummary()
			return m, nil
		case "esc":
			if m.viewing != nil {
				m.viewing = nil
				m.statusText = "Closed saved run."
				m.refreshSummary()
				return m, nil
			}
		}

		switch m.focusPane {
		case paneParams:
			return m.updateParamsPane(msg)
		case paneSummary:
			var cmd tea.Cmd
			m.summary, cmd = m.summary.Update(msg)
			return m, cmd
		case paneHistory:
			return m.updateHistoryPane(msg)
		}

	case tea.MouseMsg:
		switch m.focusPane {
		case paneSummary:
			var cmd tea.Cmd
			m.summary, cmd = m.summary.Update(msg)
			return m, cmd
		case paneHistory:
			var cmd tea.Cmd
			m.history, cmd = m.history.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

func (m Model) updateParamsPathPrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "up":
		m.setParamsPathChoiceCursor(m.paramsPathChoiceCursor - 1)
		return m, nil
	case "down":
		m.setParamsPathChoiceCursor(m.paramsPathChoiceCursor + 1)
		return m, nil
	case "pgup":
		m.setParamsPathChoiceCursor(m.paramsPathChoiceCursor - m.paramsPathListVisibleRows())
		return m, nil
	case "pgdown":
		m.setParamsPathChoiceCursor(m.paramsPathChoiceCursor + m.paramsPathListVisibleRows())
		return m, nil
	case "esc":
		m.showParamsPathPrompt = false
		m.paramsPathInput.Blur()
		m.applyFocusState()
		m.statusText = "Params file load cancelled."
		return m, tea.ClearScreen
	case "enter":
		path := strings.TrimSpace(m.paramsPathInput.Value())
		if path == "" && len(m.paramsPathChoices) > 0 {
			path = m.paramsPathChoices[m.paramsPathChoiceCursor]
		}
		m.showParamsPathPrompt = false
		m.paramsPathInput.Blur()
		m.applyFocusState()
		if path == "" {
			m.errorText = "Params file path is required."
			return m, tea.ClearScreen
		}
		m.lastParamsPath = path
		m.errorText = ""
		m.statusText = "Loading params file..."
		return m, loadParamsFileCmd(path)
	}

	var cmd tea.Cmd
	before := m.paramsPathInput.Value()
	m.paramsPathInput, cmd = m.paramsPathInput.Update(msg)
	if m.paramsPathInput.Value() != before {
		m.syncParamsPathChoiceToInput()
	}
	return m, cmd
}

func (m Model) updateParamsPane(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up":
		m.setInputCursor(m.inputCursor - 1)
		return m, nil
	case "down":
		m.setInputCursor(m.inputCursor + 1)
		return m, nil
	case "enter":
		return m, m.submitRun()
	}

	var cmd tea.Cmd
	idx := m.inputCursor
	before := m.inputs[idx].Value()
	m.inputs[idx], cmd = m.inputs[idx].Update(msg)
	if after := m.inputs[idx].Value(); after != before {
		if err := m.params.Set(params.Fields[idx], after); err != nil {
			m.errorText = err.Error()
		}
	}
	return m, cmd
}

func (m Model) updateHistoryPane(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		if len(m.historyItems) > 0 && m.store != nil {
			sel := clampInt(m.historyCursor, 0, len(m.historyItems)-1)
			return m, loadBundleCmd(m.store, m.historyItems[sel].Directory)
		}
		return m, nil
	case "up", "k":
		if len(m.historyItems) > 0 {
			m.historyCursor = clampInt(m.historyCursor-1, 0, len(m.historyItems)-1)
			m.refreshHistoryView()
		}
		return m, nil
	case "down", "j":
		if len(m.historyItems) > 0 {
			m.historyCursor = clampInt(m.historyCursor+1, 0, len(m.historyItems)-1)
			m.refreshHistoryView()
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.history, cmd = m.history.Update(msg)
	return m, cmd
}

func (m *Model) applyFocusState() {
	if m.showParamsPathPrompt {
		for idx := range m.inputs {
			m.inputs[idx].Blur()
		}
		m.paramsPathInput.Focus()
		return
	}
	m.paramsPathInput.Blur()
	for idx := range m.inputs {
		if m.focusPane == paneParams && idx == m.inputCursor {
			m.inputs[idx].Focus()
			continue
		}
		m.inputs[idx].Blur()
	}
}

func nextFocusPane(current focusPane) focusPane {
	switch current {
	case paneParams:
		return paneSummary
	case paneSummary:
		return paneHistory
	default:
		return paneParams
	}
}

func prevFocusPane(current focusPane) focusPane {
	switch current {
	case paneParams:
		return paneHistory
	case paneSummary:
		return paneParams
	default:
		return paneSummary
	}
}

func formatElapsed(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
