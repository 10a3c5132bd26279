package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/stevenijones/reactcarwashsim/internal/params"
	"github.com/stevenijones/reactcarwashsim/internal/run"
	"github.com/stevenijones/reactcarwashsim/internal/service"
	"github.com/stevenijones/reactcarwashsim/internal/storage"
)

type stubEngine struct {
	mu    sync.Mutex
	reply *service.Reply
	err   error
	calls []params.RunParameters
}

func (s *stubEngine) RunSimulation(_ context.Context, p params.RunParameters) (*service.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, p)
	return s.reply, s.err
}

func (s *stubEngine) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func okReply() *service.Reply {
	reneged := int64(4)
	avg := 2.5
	longest := 9.0
	return &service.Reply{
		Success: true,
		Metrics: &service.MetricsPayload{
			RenegedCars:     &reneged,
			AvgWaitTime:     &avg,
			LongestWaitTime: &longest,
		},
		DetailedData: &service.DetailedData{
			QueueData:    []service.Sample{{Time: 0, Value: 0}, {Time: 10, Value: 3}},
			CarWashData:  []service.Sample{{Time: 0, Value: 1}, {Time: 10, Value: 2}},
			LostCarsData: []service.Sample{{Time: 7, Value: 1}},
		},
	}
}

func newTestModel(t *testing.T, engine run.Engine, store *storage.Store) (Model, *params.Store) {
	t.Helper()
	paramStore := params.NewStore()
	controller := run.NewController(engine, paramStore)
	return NewModel(controller, paramStore, store), paramStore
}

// drain runs cmd and any commands it batches, returning every message
// produced that is not a spinner tick.
func drain(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, inner := range batch {
			out = append(out, drain(inner)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func findRunResolved(t *testing.T, msgs []tea.Msg) runResolvedMsg {
	t.Helper()
	for _, msg := range msgs {
		if resolved, ok := msg.(runResolvedMsg); ok {
			return resolved
		}
	}
	t.Fatalf("expected runResolvedMsg among %v", msgs)
	return runResolvedMsg{}
}

func TestCtrlRRunsSimulationAndSavesBundle(t *testing.T) {
	t.Parallel()

	store, err := storage.NewStore(filepath.Join(t.TempDir(), "runs"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	engine := &stubEngine{reply: okReply()}
	m, _ := newTestModel(t, engine, store)

	submittedModel, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	submitted := submittedModel.(Model)
	if cmd == nil {
		t.Fatalf("expected run command from ctrl+r")
	}
	if phase := submitted.controller.State().Phase; phase != run.PhaseRunning {
		t.Fatalf("expected running phase after submit, got %s", phase)
	}

	resolved := findRunResolved(t, drain(cmd))
	doneModel, saveCmd := submitted.Update(resolved)
	done := doneModel.(Model)
	if phase := done.controller.State().Phase; phase != run.PhaseSucceeded {
		t.Fatalf("expected succeeded phase, got %s", phase)
	}
	if !strings.Contains(done.statusText, "Run #1 succeeded") {
		t.Fatalf("unexpected status text: %q", done.statusText)
	}
	summary := done.renderSummary()
	for _, want := range []string{"Reneged cars:", "4", "2.5", "9.0"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary missing %q: %q", want, summary)
		}
	}
	if saveCmd == nil {
		t.Fatalf("expected bundle save command after success")
	}

	savedModel, historyCmd := done.Update(saveCmd())
	saved := savedModel.(Model)
	if !strings.Contains(saved.statusText, "saved as") {
		t.Fatalf("unexpected status after save: %q", saved.statusText)
	}
	if historyCmd == nil {
		t.Fatalf("expected history reload after save")
	}
	listedModel, _ := saved.Update(historyCmd())
	listed := listedModel.(Model)
	if len(listed.historyItems) != 1 {
		t.Fatalf("expected one history item, got %d", len(listed.historyItems))
	}
	if engine.callCount() != 1 {
		t.Fatalf("expected one engine request, got %d", engine.callCount())
	}
}

func TestEngineFailureMessageShownVerbatim(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{reply: &service.Reply{Success: false, Error: "queue overflow"}}
	m, _ := newTestModel(t, engine, nil)

	submittedModel, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	nextModel, saveCmd := submittedModel.(Model).Update(findRunResolved(t, drain(cmd)))
	next := nextModel.(Model)

	if saveCmd != nil {
		t.Fatalf("failed runs must not be saved")
	}
	if !strings.Contains(next.renderStatusLine(), "queue overflow") {
		t.Fatalf("expected engine message in status line, got %q", next.renderStatusLine())
	}
	if next.displayedResult() != nil {
		t.Fatalf("expected no result after failure")
	}
}

func TestTransportFailureShowsRequestFailed(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{err: &service.TransportError{Op: "send request", Err: errors.New("connection refused")}}
	m, _ := newTestModel(t, engine, nil)

	submittedModel, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	nextModel, _ := submittedModel.(Model).Update(findRunResolved(t, drain(cmd)))
	next := nextModel.(Model)

	status := next.renderStatusLine()
	if !strings.Contains(status, "request failed") || !strings.Contains(status, "connection refused") {
		t.Fatalf("unexpected status line: %q", status)
	}
}

func TestValidationFailureFocusesFieldWithoutRequest(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{reply: okReply()}
	m, store := newTestModel(t, engine, nil)
	if err := store.Set(params.FieldNumSystems, ""); err != nil {
		t.Fatalf("Set: %v", err)
	}

	nextModel, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	next := nextModel.(Model)
	if cmd != nil {
		t.Fatalf("expected no command for invalid parameters")
	}
	if engine.callCount() != 0 {
		t.Fatalf("expected no engine request, got %d", engine.callCount())
	}
	if next.inputCursor != 1 {
		t.Fatalf("expected cursor on wash bays input, got %d", next.inputCursor)
	}
	field, ok := next.invalidField()
	if !ok || field != params.FieldNumSystems {
		t.Fatalf("expected numSystems flagged, got %q (%v)", field, ok)
	}
	if !strings.Contains(next.renderStatusLine(), "Wash bays is required") {
		t.Fatalf("unexpected status line: %q", next.renderStatusLine())
	}
}

func TestSubmitWhileRunningIsIgnored(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{reply: okReply()}
	m, _ := newTestModel(t, engine, nil)

	firstModel, firstCmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	if firstCmd == nil {
		t.Fatalf("expected first submit to dispatch")
	}
	secondModel, secondCmd := firstModel.(Model).Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	second := secondModel.(Model)
	if secondCmd != nil {
		t.Fatalf("expected second submit to be ignored")
	}
	if id := second.controller.State().ID; id != 1 {
		t.Fatalf("expected run id to stay 1, got %d", id)
	}
	if strings.TrimSpace(second.errorText) != "" {
		t.Fatalf("ignored submit should not surface an error, got %q", second.errorText)
	}
}

func TestSupersededResolutionIsIgnored(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, &stubEngine{reply: okReply()}, nil)
	before := m.statusText

	nextModel, cmd := m.Update(runResolvedMsg{runID: 42})
	next := nextModel.(Model)
	if cmd != nil {
		t.Fatalf("expected no command for unknown run")
	}
	if next.statusText != before {
		t.Fatalf("status changed for unknown run: %q", next.statusText)
	}
}

func TestTypingUpdatesParameterStore(t *testing.T) {
	t.Parallel()

	m, store := newTestModel(t, &stubEngine{reply: okReply()}, nil)

	var model tea.Model = m
	for i := 0; i < 3; i++ {
		model, _ = model.Update(tea.KeyMsg{Type: tea.KeyBackspace})
	}
	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("720")})

	if got := store.Raw(params.FieldRunLength); got != "720" {
		t.Fatalf("expected runLength 720 in store, got %q", got)
	}
	if got := model.(Model).inputs[0].Value(); got != "720" {
		t.Fatalf("expected input to show 720, got %q", got)
	}
}

func TestArrowKeysMoveInputFocus(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, &stubEngine{reply: okReply()}, nil)

	nextModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	next := nextModel.(Model)
	if next.inputCursor != 1 || !next.inputs[1].Focused() || next.inputs[0].Focused() {
		t.Fatalf("expected focus on second input, cursor=%d", next.inputCursor)
	}

	for i := 0; i < 5; i++ {
		nextModel, _ = nextModel.Update(tea.KeyMsg{Type: tea.KeyDown})
	}
	if got := nextModel.(Model).inputCursor; got != len(params.Fields)-1 {
		t.Fatalf("expected cursor clamped to last input, got %d", got)
	}
}

func TestCtrlDRestoresDefaults(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{reply: &service.Reply{Success: false, Error: "boom"}}
	m, store := newTestModel(t, engine, nil)
	if err := store.Set(params.FieldArrivalRate, "0.9"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	m.syncInputsFromStore()

	submittedModel, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	failedModel, _ := submittedModel.(Model).Update(findRunResolved(t, drain(cmd)))

	resetModel, _ := failedModel.Update(tea.KeyMsg{Type: tea.KeyCtrlD})
	reset := resetModel.(Model)
	if got := store.Raw(params.FieldArrivalRate); got != "0.6" {
		t.Fatalf("expected default arrival rate, got %q", got)
	}
	if got := reset.inputs[3].Value(); got != "0.6" {
		t.Fatalf("expected input to show default arrival rate, got %q", got)
	}
	if phase := reset.controller.State().Phase; phase != run.PhaseIdle {
		t.Fatalf("expected idle phase after reset, got %s", phase)
	}
}

func TestStartupParamsAreApplied(t *testing.T) {
	t.Parallel()

	paramStore := params.NewStore()
	controller := run.NewController(&stubEngine{reply: okReply()}, paramStore)
	m := NewModelWithOptions(controller, paramStore, nil, ModelOptions{
		InitialParams:     map[params.Field]string{params.FieldMaxQueueLength: "8"},
		InitialParamsPath: "/tmp/params.json",
	})

	if got := m.inputs[2].Value(); got != "8" {
		t.Fatalf("expected startup maxQueueLength in input, got %q", got)
	}
	if !strings.Contains(m.statusText, "/tmp/params.json") {
		t.Fatalf("unexpected status text: %q", m.statusText)
	}
}

func TestCtrlOPromptFlowLoadsParamsFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "params.json")
	if err := os.WriteFile(path, []byte(`{"numSystems": 4, "arrivalRate": "1.25"}`), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	m, store := newTestModel(t, &stubEngine{reply: okReply()}, nil)

	openedModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlO})
	opened := openedModel.(Model)
	if !opened.showParamsPathPrompt {
		t.Fatalf("expected params path prompt to open")
	}

	opened.paramsPathInput.SetValue(path)
	submittedModel, cmd := opened.Update(tea.KeyMsg{Type: tea.KeyEnter})
	submitted := submittedModel.(Model)
	if cmd == nil {
		t.Fatalf("expected load command on enter")
	}
	if submitted.showParamsPathPrompt {
		t.Fatalf("expected prompt to close after enter")
	}

	loadedModel, _ := submitted.Update(cmd())
	loaded := loadedModel.(Model)
	if strings.TrimSpace(loaded.errorText) != "" {
		t.Fatalf("unexpected error text: %q", loaded.errorText)
	}
	if store.Raw(params.FieldNumSystems) != "4" || store.Raw(params.FieldArrivalRate) != "1.25" {
		t.Fatalf("params not applied: %v", store.Values())
	}
	if loaded.inputs[1].Value() != "4" {
		t.Fatalf("expected input to show loaded value, got %q", loaded.inputs[1].Value())
	}
}

func TestParamsPromptArrowSelectionUpdatesInput(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, &stubEngine{reply: okReply()}, nil)
	m.showParamsPathPrompt = true
	m.paramsPathChoices = []string{"a.json", "b.json", "c.json"}
	m.paramsPathChoiceCursor = 0
	m.paramsPathInput.SetValue("")

	nextModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	next := nextModel.(Model)

	if next.paramsPathChoiceCursor != 1 {
		t.Fatalf("expected cursor 1 after down, got %d", next.paramsPathChoiceCursor)
	}
	if strings.TrimSpace(next.paramsPathInput.Value()) != "b.json" {
		t.Fatalf("expected input to follow selected file, got %q", next.paramsPathInput.Value())
	}
}

func TestParamsPromptEnterEmptyPathShowsError(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, &stubEngine{reply: okReply()}, nil)
	m.showParamsPathPrompt = true
	m.paramsPathChoices = nil
	m.paramsPathInput.SetValue("")

	nextModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	next := nextModel.(Model)
	if next.showParamsPathPrompt {
		t.Fatalf("expected prompt closed after enter")
	}
	if next.errorText != "Params file path is required." {
		t.Fatalf("unexpected error text: %q", next.errorText)
	}
}

func TestParamsFileLoadedMsgClosesPromptOnError(t *testing.T) {
	t.Parallel()

	m, store := newTestModel(t, &stubEngine{reply: okReply()}, nil)
	m.showParamsPathPrompt = true

	nextModel, _ := m.Update(paramsFileLoadedMsg{path: "/tmp/params.json", err: errors.New("kaboom")})
	next := nextModel.(Model)
	if next.showParamsPathPrompt {
		t.Fatalf("expected prompt closed after load error")
	}
	if !strings.Contains(next.errorText, "Params file load failed: kaboom") {
		t.Fatalf("unexpected error text: %q", next.errorText)
	}
	if store.Raw(params.FieldRunLength) != "500" {
		t.Fatalf("failed load must not touch the store")
	}
}

func TestListJSONFilesInDirFiltersAndSorts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for name, body := range map[string]string{"b.JSON": "{}", "a.json": "{}", "notes.txt": "x"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	files, err := listJSONFilesInDir(dir)
	if err != nil {
		t.Fatalf("listJSONFilesInDir returned error: %v", err)
	}
	if len(files) != 2 || files[0] != "a.json" || files[1] != "b.JSON" {
		t.Fatalf("unexpected json files: %v", files)
	}
}

func TestViewStaysWithinWindowHeightWhenPromptVisible(t *testing.T) {
	t.Parallel()

	const width = 120
	const height = 30

	m, _ := newTestModel(t, &stubEngine{reply: okReply()}, nil)
	sizedModel, _ := m.Update(tea.WindowSizeMsg{Width: width, Height: height})
	openedModel, _ := sizedModel.Update(tea.KeyMsg{Type: tea.KeyCtrlO})
	opened := openedModel.(Model)

	view := opened.View()
	if lineCount := strings.Count(view, "\n") + 1; lineCount > height {
		t.Fatalf("expected view line count <= window height (%d), got %d", height, lineCount)
	}
	if !strings.Contains(view, "Load Parameters File") {
		t.Fatalf("expected load-params panel title in view")
	}
}

func TestViewShowsChartsAfterSuccess(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, &stubEngine{reply: okReply()}, nil)
	sizedModel, _ := m.Update(tea.WindowSizeMsg{Width: 140, Height: 44})
	submittedModel, cmd := sizedModel.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	doneModel, _ := submittedModel.Update(findRunResolved(t, drain(cmd)))

	view := doneModel.(Model).View()
	for _, want := range []string{"Queue Occupancy", "Active Washes", "Lost Cars", "peak 3"} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected %q in view", want)
		}
	}
}

func TestHistoryEnterOpensSavedRunAndEscCloses(t *testing.T) {
	t.Parallel()

	store, err := storage.NewStore(filepath.Join(t.TempDir(), "runs"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	saved, err := store.SaveRun(params.Defaults(), mustProject(t, okReply()))
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	m, _ := newTestModel(t, &stubEngine{reply: okReply()}, store)
	listedModel, _ := m.Update(loadHistoryCmd(store)())
	listed := listedModel.(Model)
	listed.focusPane = paneHistory
	listed.applyFocusState()

	openModel, cmd := listed.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("expected bundle load command")
	}
	viewingModel, _ := openModel.Update(cmd())
	viewing := viewingModel.(Model)
	if viewing.viewing == nil {
		t.Fatalf("expected saved run to be shown, error=%q", viewing.errorText)
	}
	if viewing.summaryTitle() != "Saved Run "+saved.BundleID {
		t.Fatalf("unexpected summary title: %q", viewing.summaryTitle())
	}
	if viewing.displayedResult() == nil {
		t.Fatalf("expected saved result to drive the charts")
	}

	closedModel, _ := viewing.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if closedModel.(Model).viewing != nil {
		t.Fatalf("expected esc to close the saved run")
	}
}

func TestHistorySelectionAutoScrollsViewport(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, &stubEngine{reply: okReply()}, nil)
	m.history.Width = 120
	m.history.Height = 5
	m.historyItems = make([]storage.RunSummary, 12)
	for idx := range m.historyItems {
		m.historyItems[idx] = storage.RunSummary{SavedAt: "2026-01-01T00:00:00Z"}
	}

	cases := []struct {
		cursor int
		offset int
	}{
		{cursor: 0, offset: 0},
		{cursor: 7, offset: 4},
		{cursor: 11, offset: 7},
		{cursor: 2, offset: 1},
	}
	for _, tc := range cases {
		m.historyCursor = tc.cursor
		m.refreshHistoryView()
		if m.history.YOffset != tc.offset {
			t.Fatalf("cursor %d: expected offset %d, got %d", tc.cursor, tc.offset, m.history.YOffset)
		}
	}
}

func TestHistoryAutoScrollAccountsForWrappedRows(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, &stubEngine{reply: okReply()}, nil)
	m.history.Width = 20
	m.history.Height = 4
	m.historyItems = make([]storage.RunSummary, 8)
	for idx := range m.historyItems {
		m.historyItems[idx] = storage.RunSummary{SavedAt: "2026-01-01T00:00:00Z"}
	}

	m.historyCursor = 6
	m.refreshHistoryView()

	if m.history.YOffset <= 0 {
		t.Fatalf("expected positive y-offset for wrapped history content, got %d", m.history.YOffset)
	}
	if m.historyCursorBottomLine < m.history.YOffset {
		t.Fatalf("expected selected row bottom line to be in/after viewport top")
	}
	if m.historyCursorTopLine > m.history.YOffset+m.history.Height-1 {
		t.Fatalf("expected selected row top line to be in/before viewport bottom")
	}
}
