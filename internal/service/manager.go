package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/stevenijones/reactcarwashsim/internal/params"
)

const (
	maxLogLines      = 600
	maxReplyBytes    = 32 << 20
	healthPollPeriod = 150 * time.Millisecond
)

type apiError struct {
	Error string `json:"error"`
}

// Options configures a Manager.
type Options struct {
	// BaseURL is the engine root, e.g. http://127.0.0.1:5000.
	BaseURL string
	// LaunchCommand, when non-empty, is started by Start and stopped by Stop.
	LaunchCommand []string
	WorkDir       string
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Manager talks to the simulation engine and optionally supervises a local
// engine process.
type Manager struct {
	baseURL string
	launch  []string
	workDir string
	logger  *slog.Logger

	mu      sync.RWMutex
	started bool
	cmd     *exec.Cmd
	exited  chan struct{}

	logsMu sync.Mutex
	logs   []string

	httpClient *http.Client
}

func NewManager(opts Options) *Manager {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		launch:     append([]string(nil), opts.LaunchCommand...),
		workDir:    opts.WorkDir,
		logger:     logger,
		httpClient: client,
	}
}

// Endpoint is the full URL run requests are posted to.
func (m *Manager) Endpoint() string {
	return m.baseURL + runSimulationPath
}

func (m *Manager) appendLog(line string) {
	m.logsMu.Lock()
	defer m.logsMu.Unlock()
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
}

// Logs returns captured engine process output, oldest first.
func (m *Manager) Logs() string {
	m.logsMu.Lock()
	defer m.logsMu.Unlock()
	return strings.Join(m.logs, "\n")
}

// Managed reports whether Start launches an engine process.
func (m *Manager) Managed() bool {
	return len(m.launch) > 0
}

// Start launches the engine process when one is configured and waits until
// it answers the health check. Without a launch command it only checks health.
func (m *Manager) Start(ctx context.Context) error {
	if !m.Managed() {
		return m.Health(ctx)
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	cmd := exec.Command(m.launch[0], m.launch[1:]...)
	cmd.Dir = m.workDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	m.logger.Info("engine process started", "pid", cmd.Process.Pid, "cmd", strings.Join(m.launch, " "))

	var pipes sync.WaitGroup
	pipes.Add(2)
	go m.capture(&pipes, "engine stdout: ", stdout)
	go m.capture(&pipes, "engine stderr: ", stderr)

	exited := make(chan struct{})
	m.mu.Lock()
	m.started = true
	m.cmd = cmd
	m.exited = exited
	m.mu.Unlock()

	go func() {
		pipes.Wait()
		if err := cmd.Wait(); err != nil {
			m.appendLog("engine process exited with error: " + err.Error())
		} else {
			m.appendLog("engine process exited")
		}
		m.logger.Info("engine process exited", "pid", cmd.Process.Pid)
		m.mu.Lock()
		m.started = false
		m.cmd = nil
		m.mu.Unlock()
		close(exited)
	}()

	ticker := time.NewTicker(healthPollPeriod)
	defer ticker.Stop()
	for {
		probeCtx, cancel := context.WithTimeout(ctx, time.Second)
		err := m.Health(probeCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			_ = m.Stop()
			return fmt.Errorf("engine did not become healthy: %w", ctx.Err())
		case <-exited:
			return fmt.Errorf("engine process exited before becoming healthy")
		case <-ticker.C:
		}
	}
}

func (m *Manager) capture(wg *sync.WaitGroup, prefix string, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	for scanner.Scan() {
		m.appendLog(prefix + scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		m.appendLog(prefix + "scan error: " + err.Error())
	}
}

// Stop interrupts a managed engine process, killing it if it does not exit
// within two seconds. It is a no-op when nothing was launched.
func (m *Manager) Stop() error {
	m.mu.RLock()
	cmd := m.cmd
	exited := m.exited
	started := m.started
	m.mu.RUnlock()

	if !started || cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-exited:
		return nil
	case <-time.After(2 * time.Second):
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill engine: %w", err)
	}
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		m.logger.Warn("engine process did not exit after kill", "pid", cmd.Process.Pid)
	}
	return nil
}

// Health checks that the engine root answers with a 2xx status.
func (m *Manager) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("engine health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("engine health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// RunSimulation posts one run request and decodes the tagged reply. A reply
// with success=false is returned as-is with a nil error; every failure to
// obtain a decoded reply is a *TransportError.
func (m *Manager) RunSimulation(ctx context.Context, p params.RunParameters) (*Reply, error) {
	blob, err := json.Marshal(p)
	if err != nil {
		return nil, &TransportError{Op: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint(), bytes.NewReader(blob))
	if err != nil {
		return nil, &TransportError{Op: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	m.logger.Debug("posting run request", "url", m.Endpoint(), "params", p.String())
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "perform request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := ""
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil {
			detail = strings.TrimSpace(apiErr.Error)
		}
		return nil, &TransportError{Op: "perform request", StatusCode: resp.StatusCode, Detail: detail}
	}

	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &TransportError{Op: "decode response", Err: errors.New("body is not a JSON object")}
	}
	var reply Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, &TransportError{Op: "decode response", Err: err}
	}
	m.logger.Debug("run reply received", "success", reply.Success, "bytes", len(body))
	return &reply, nil
}
