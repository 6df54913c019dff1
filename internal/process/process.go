package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/camkeeper/internal/logging"
)

// OutputHandler receives output lines from the subprocess.
// Implementations parse progress, segment lists, probe output, etc.
type OutputHandler interface {
	HandleLine(source, line string)
}

// OutputHandlerFunc adapts a function to OutputHandler.
type OutputHandlerFunc func(source, line string)

// HandleLine calls f.
func (f OutputHandlerFunc) HandleLine(source, line string) { f(source, line) }

// LogParser parses a log line and returns the log level and message.
// Used to extract structured log info from process output (ffmpeg, ffprobe).
type LogParser func(line string) (level, msg string)

// ErrNotStarted is returned when a running process is required.
var ErrNotStarted = errors.New("process not started")

type exitReason int

const (
	exitReasonProcessExit exitReason = iota
	exitReasonShutdown
	exitReasonRestart
)

// Process manages the lifecycle of a subprocess.
type Process struct {
	id              string
	command         string
	commandMu       sync.RWMutex
	cmd             *exec.Cmd
	logger          logging.Logger
	processLogger   logging.Logger // logger for process output (nil = use logger)
	logParser       LogParser      // parses process output for log level (nil = no parsing)
	ctx             context.Context
	cancel          context.CancelFunc
	restartChan     chan string // receives new command for restart
	outputHandler   OutputHandler
	stdoutReader    func(io.Reader) // consumes raw stdout instead of line scanning
	wantStdin       bool
	stdin           io.WriteCloser
	running         *runningProcess
	gracefulTimeout time.Duration // timeout for graceful shutdown before force kill
	killTimeout     time.Duration // timeout after Kill() before giving up
}

// Option configures a Process.
type Option func(*Process)

// WithOutputHandler sets the handler that receives each output line.
func WithOutputHandler(h OutputHandler) Option {
	return func(p *Process) { p.outputHandler = h }
}

// WithLogParser sets a logger and log parser for process output.
// The logger is used for process output (e.g., module="ffmpeg").
func WithLogParser(logger logging.Logger, parser LogParser) Option {
	return func(p *Process) {
		p.processLogger = logger
		p.logParser = parser
	}
}

// WithStdin opens a pipe to the subprocess stdin, available through Stdin
// after Start.
func WithStdin() Option {
	return func(p *Process) { p.wantStdin = true }
}

// WithStdoutReader hands the raw stdout stream to fn instead of splitting
// it into lines. fn runs on its own goroutine and must read until EOF.
func WithStdoutReader(fn func(io.Reader)) Option {
	return func(p *Process) { p.stdoutReader = fn }
}

// WithTimeouts overrides the graceful stop and kill timeouts.
func WithTimeouts(graceful, kill time.Duration) Option {
	return func(p *Process) {
		p.gracefulTimeout = graceful
		p.killTimeout = kill
	}
}

// NewProcess creates a new process. It does not start it.
func NewProcess(id, command string, logger logging.Logger, opts ...Option) *Process {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Process{
		id:              id,
		command:         command,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
		restartChan:     make(chan string, 1),
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID returns the process identifier.
func (p *Process) ID() string {
	return p.id
}

// GetCommand returns the current command string.
func (p *Process) GetCommand() string {
	p.commandMu.RLock()
	defer p.commandMu.RUnlock()
	return p.command
}

// RequestRestart requests a restart with a new command.
// Non-blocking: if a restart is already pending, this is a no-op.
func (p *Process) RequestRestart(newCommand string) {
	select {
	case p.restartChan <- newCommand:
		p.logger.Info("Restart requested", "id", p.id)
	default:
		p.logger.Warn("Restart already pending, ignoring", "id", p.id)
	}
}

// Shutdown triggers a graceful shutdown of the process.
func (p *Process) Shutdown() {
	p.cancel()
}

// runningProcess holds channels for monitoring a running subprocess.
type runningProcess struct {
	processDone <-chan error
	outputDone  chan struct{} // receives twice, once per output stream
	exited      chan struct{}
	exitCode    int
}

// startProcess parses the command, starts the subprocess, and returns channels for monitoring.
func (p *Process) startProcess(command string) (*runningProcess, error) {
	args, err := ParseCommand(command)
	if err != nil {
		p.logger.Error("Failed to parse command", "error", err)
		return nil, err
	}

	if len(args) == 0 {
		p.logger.Error("Empty command")
		return nil, fmt.Errorf("empty command")
	}

	p.cmd = exec.Command(args[0], args[1:]...)
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if p.wantStdin {
		stdin, pipeErr := p.cmd.StdinPipe()
		if pipeErr != nil {
			p.logger.Error("Failed to create stdin pipe", "error", pipeErr)
			return nil, pipeErr
		}
		p.stdin = stdin
	}

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		p.logger.Error("Failed to create stdout pipe", "error", err)
		return nil, err
	}

	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		p.logger.Error("Failed to create stderr pipe", "error", err)
		return nil, err
	}

	if err := p.cmd.Start(); err != nil {
		p.logger.Error("Failed to start process", "error", err, "command", command)
		return nil, err
	}

	p.logger.Info("Process started", "id", p.id, "pid", p.cmd.Process.Pid, "command", command)

	outputDone := make(chan struct{}, 2)
	go func() {
		if p.stdoutReader != nil {
			p.stdoutReader(stdout)
			// drain whatever the reader left so the child never blocks on a full pipe
			_, _ = io.Copy(io.Discard, stdout)
		} else {
			p.streamOutput(stdout, "stdout")
		}
		outputDone <- struct{}{}
	}()
	go func() {
		p.streamOutput(stderr, "stderr")
		outputDone <- struct{}{}
	}()

	// cmd.Wait closes the pipes, so it runs only after both readers finish
	processDone := make(chan error, 1)
	go func() {
		<-outputDone
		<-outputDone
		processDone <- p.cmd.Wait()
	}()

	return &runningProcess{processDone: processDone, outputDone: outputDone, exited: make(chan struct{})}, nil
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// handleProcessExit extracts exit code from process error and logs non-ExitError errors.
func (p *Process) handleProcessExit(processErr error) int {
	exitCode := exitCodeFromError(processErr)
	if processErr != nil && exitCode == 1 {
		p.logger.Error("Process exited with error", "id", p.id, "error", processErr)
	}
	return exitCode
}

// Run starts the subprocess and blocks until it exits or ctx (or Shutdown)
// stops it. Returns the exit code of the subprocess.
func (p *Process) Run(ctx context.Context) int {
	rp, err := p.startProcess(p.GetCommand())
	if err != nil {
		return 1
	}

	select {
	case <-ctx.Done():
		p.logger.Info("Context cancelled, shutting down process", "id", p.id)
		p.sendStopSignal()
		return p.waitForExit(rp.processDone, p.gracefulTimeout)
	case <-p.ctx.Done():
		p.logger.Info("Shutdown requested, stopping process", "id", p.id)
		p.sendStopSignal()
		return p.waitForExit(rp.processDone, p.gracefulTimeout)
	case processErr := <-rp.processDone:
		exitCode := p.handleProcessExit(processErr)
		p.logger.Info("Process exited", "id", p.id, "exit_code", exitCode)
		return exitCode
	}
}

// RunWithRestart runs the subprocess and handles restart requests.
// It loops, restarting the process when RequestRestart() is called.
// Returns on cancellation or when the process exits on its own.
func (p *Process) RunWithRestart(ctx context.Context) int {
	for {
		exitCode, reason := p.runOnce(ctx)

		switch reason {
		case exitReasonShutdown:
			p.logger.Info("Shutdown complete", "id", p.id, "exit_code", exitCode)
			return exitCode
		case exitReasonRestart:
			p.logger.Info("Restarting process", "id", p.id)
			continue
		case exitReasonProcessExit:
			// let the owner decide whether to start again
			p.logger.Info("Process exited unexpectedly", "id", p.id, "exit_code", exitCode)
			return exitCode
		}
	}
}

// runOnce runs the process once and returns the exit code and reason for exit.
func (p *Process) runOnce(ctx context.Context) (int, exitReason) {
	rp, err := p.startProcess(p.GetCommand())
	if err != nil {
		return 1, exitReasonProcessExit
	}

	select {
	case <-ctx.Done():
		p.sendStopSignal()
		return p.waitForExit(rp.processDone, p.gracefulTimeout), exitReasonShutdown

	case <-p.ctx.Done():
		p.sendStopSignal()
		return p.waitForExit(rp.processDone, p.gracefulTimeout), exitReasonShutdown

	case newCmd := <-p.restartChan:
		p.logger.Info("Received restart request", "id", p.id)
		p.sendStopSignal()
		p.commandMu.Lock()
		p.command = newCmd
		p.commandMu.Unlock()
		return p.waitForExit(rp.processDone, p.gracefulTimeout), exitReasonRestart

	case processErr := <-rp.processDone:
		exitCode := p.handleProcessExit(processErr)
		p.logger.Info("Process exited", "id", p.id, "exit_code", exitCode)
		return exitCode, exitReasonProcessExit
	}
}

// Start launches the subprocess without blocking. Use Stdin to feed it and
// Finish to end it.
func (p *Process) Start() error {
	rp, err := p.startProcess(p.GetCommand())
	if err != nil {
		return err
	}
	p.running = rp
	go func() {
		err := <-rp.processDone
		rp.exitCode = p.handleProcessExit(err)
		close(rp.exited)
	}()
	return nil
}

// Stdin returns the stdin pipe of a process started with WithStdin.
func (p *Process) Stdin() io.Writer {
	return p.stdin
}

// Exited is closed once a started process has exited.
func (p *Process) Exited() <-chan struct{} {
	if p.running == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return p.running.exited
}

// Finish closes stdin so the subprocess can flush and exit on its own. If it
// does not exit within the graceful timeout it gets SIGINT, then SIGKILL.
// Returns the exit code.
func (p *Process) Finish() (int, error) {
	rp := p.running
	if rp == nil {
		return 1, ErrNotStarted
	}
	if p.stdin != nil {
		if err := p.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			p.logger.Debug("Closing stdin failed", "id", p.id, "error", err)
		}
	}

	select {
	case <-rp.exited:
		return rp.exitCode, nil
	case <-time.After(p.gracefulTimeout):
	}

	p.logger.Warn("Process did not exit after stdin closed, interrupting", "id", p.id)
	p.sendStopSignal()
	select {
	case <-rp.exited:
		return rp.exitCode, nil
	case <-time.After(p.gracefulTimeout):
	}

	p.kill()
	select {
	case <-rp.exited:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill signal", "id", p.id)
	}
	return 137, nil
}

// sendStopSignal sends SIGINT to the subprocess without waiting.
func (p *Process) sendStopSignal() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	p.logger.Info("Sending SIGINT to process", "id", p.id, "pid", p.cmd.Process.Pid)
	if err := p.cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("Failed to send SIGINT", "error", err)
	}
}

func (p *Process) kill() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Error("Failed to kill process", "id", p.id, "error", err)
	}
}

// waitForExit waits for the process to exit with a timeout, force-killing if needed.
func (p *Process) waitForExit(processDone <-chan error, timeout time.Duration) int {
	select {
	case err := <-processDone:
		return exitCodeFromError(err)
	case <-time.After(timeout):
		p.logger.Warn("Graceful shutdown timeout, forcing kill", "id", p.id, "timeout", timeout)
		p.kill()
		select {
		case <-processDone:
		case <-time.After(p.killTimeout):
			p.logger.Error("Process did not exit after kill signal", "id", p.id)
		}
		return 137
	}
}

// streamOutput streams output from the subprocess.
// Uses the configured processLogger (or falls back to default logger).
// Uses the configured LogParser to extract log levels from process output.
func (p *Process) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		if p.outputHandler != nil {
			p.outputHandler.HandleLine(source, line)
		}

		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}

		switch level {
		case "fatal", "error", "panic":
			logger.Error(msg, "id", p.id)
		case "warning":
			logger.Warn(msg, "id", p.id)
		case "debug", "trace", "verbose":
			logger.Debug(msg, "id", p.id)
		default:
			logger.Info(msg, "id", p.id)
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "id", p.id, "source", source, "error", err)
	}
}

// ParseCommand parses a command string into arguments.
// Handles quoted strings and basic escaping.
func ParseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)
	hasArg := false

	command = strings.TrimSpace(command)
	runes := []rune(command)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
				hasArg = true
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 || hasArg {
				args = append(args, current.String())
				current.Reset()
				hasArg = false
			}
		case r == '\\' && i+1 < len(runes) && quoteChar != '\'':
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 || hasArg {
		args = append(args, current.String())
	}

	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}

	return args, nil
}

// Quote returns s quoted so ParseCommand yields it back as one argument.
func Quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t'\"\\") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
