package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// OutputHandler receives text lines from the subprocess.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser extracts a level and message from one line of process output.
type LogParser func(line string) (slog.Level, string)

// Pipes attaches data streams to the subprocess. Stdout, when set, receives
// raw stdout instead of it being logged line by line. ExtraFiles become
// fds 3, 4, ... in the child. A Stdin that is an *os.File and all
// ExtraFiles are closed in the parent once the child starts.
type Pipes struct {
	Stdin      io.Reader
	Stdout     io.Writer
	ExtraFiles []*os.File
}

// Process runs one subprocess to completion.
type Process struct {
	id            string
	command       string
	logger        *slog.Logger
	processLogger *slog.Logger
	logParser     LogParser
	outputHandler OutputHandler
	pipes         Pipes

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	cmd  *exec.Cmd
	info Info

	gracefulTimeout time.Duration
	killTimeout     time.Duration
}

// NewProcess creates a process for command. The command is split on spaces,
// honoring single and double quotes and backslash escapes.
func NewProcess(id, command string, logger *slog.Logger) *Process {
	return NewProcessWithOutput(id, command, logger, nil)
}

// NewProcessWithOutput creates a process whose text output lines are also
// passed to handler.
func NewProcessWithOutput(id, command string, logger *slog.Logger, handler OutputHandler) *Process {
	ctx, cancel := context.WithCancel(context.Background())
	return &Process{
		id:              id,
		command:         command,
		logger:          logger,
		outputHandler:   handler,
		ctx:             ctx,
		cancel:          cancel,
		info:            Info{ID: id, State: StateIdle},
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
	}
}

// Command returns the command line.
func (p *Process) Command() string {
	return p.command
}

// SetLogParser routes process output through logger with levels taken from
// parser.
func (p *Process) SetLogParser(logger *slog.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// SetPipes attaches data streams. Must be called before Run.
func (p *Process) SetPipes(pipes Pipes) {
	p.pipes = pipes
}

// SetGracefulTimeout sets how long Shutdown waits after SIGINT before
// killing the process.
func (p *Process) SetGracefulTimeout(d time.Duration) {
	p.gracefulTimeout = d
}

// Info returns the current state.
func (p *Process) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// Shutdown asks the process to stop: SIGINT first, SIGKILL after the
// graceful timeout. Run returns once it has exited.
func (p *Process) Shutdown() {
	p.cancel()
}

// Done is closed when Shutdown has been called.
func (p *Process) Done() <-chan struct{} {
	return p.ctx.Done()
}

func (p *Process) setState(state State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.info.State = state
	if err != nil {
		p.info.LastError = err
	}
	switch state {
	case StateRunning:
		p.info.StartedAt = time.Now()
		if p.cmd != nil && p.cmd.Process != nil {
			p.info.PID = p.cmd.Process.Pid
		}
	case StateIdle, StateError:
		p.info.PID = 0
	}
}

type running struct {
	exited     <-chan error
	outputDone chan struct{}
	streams    int
}

func (p *Process) start() (*running, error) {
	args, err := parseCommand(p.command)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = p.pipes.Stdin
	cmd.ExtraFiles = p.pipes.ExtraFiles
	cmd.WaitDelay = p.killTimeout

	var readers []namedReader
	if p.pipes.Stdout != nil {
		cmd.Stdout = p.pipes.Stdout
	} else {
		stdout, pipeErr := cmd.StdoutPipe()
		if pipeErr != nil {
			return nil, pipeErr
		}
		readers = append(readers, namedReader{"stdout", stdout})
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	readers = append(readers, namedReader{"stderr", stderr})

	p.mu.Lock()
	p.cmd = cmd
	p.mu.Unlock()

	if err := cmd.Start(); err != nil {
		p.closeExtraFiles()
		return nil, err
	}
	p.closeExtraFiles()
	p.logger.Info("Process started", "id", p.id, "pid", cmd.Process.Pid, "command", p.command)

	r := &running{outputDone: make(chan struct{}, len(readers)), streams: len(readers)}
	for _, nr := range readers {
		go func(nr namedReader) {
			p.streamOutput(nr.r, nr.name)
			r.outputDone <- struct{}{}
		}(nr)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	r.exited = exited
	return r, nil
}

// closeExtraFiles releases the parent's copies of the child's descriptors so
// the child sees EOF when the writer side closes.
func (p *Process) closeExtraFiles() {
	if f, ok := p.pipes.Stdin.(*os.File); ok && f != nil {
		_ = f.Close()
	}
	for _, f := range p.pipes.ExtraFiles {
		if f != nil {
			_ = f.Close()
		}
	}
}

type namedReader struct {
	name string
	r    io.Reader
}

// Run starts the subprocess and blocks until it exits or Shutdown is called.
// It returns the exit code; 137 means it had to be killed.
func (p *Process) Run() int {
	if p.ctx.Err() != nil {
		p.closeExtraFiles()
		return 0
	}
	p.setState(StateStarting, nil)
	r, err := p.start()
	if err != nil {
		p.closeExtraFiles()
		p.logger.Error("Failed to start process", "id", p.id, "error", err)
		p.setState(StateError, err)
		return 1
	}
	p.setState(StateRunning, nil)

	var code int
	select {
	case <-p.ctx.Done():
		p.setState(StateStopping, nil)
		p.signalStop()
		code = p.waitForExit(r.exited)
		p.setState(StateIdle, nil)
	case exitErr := <-r.exited:
		code = exitCode(exitErr)
		if code != 0 {
			p.logger.Warn("Process exited", "id", p.id, "exit_code", code)
			p.setState(StateError, fmt.Errorf("exit code %d", code))
		} else {
			p.logger.Info("Process exited", "id", p.id, "exit_code", code)
			p.setState(StateIdle, nil)
		}
	}

	for i := 0; i < r.streams; i++ {
		<-r.outputDone
	}
	return code
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return 137
	}
	return 1
}

func (p *Process) signalStop() {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("Failed to send SIGINT", "id", p.id, "error", err)
	}
}

func (p *Process) waitForExit(exited <-chan error) int {
	select {
	case err := <-exited:
		return exitCode(err)
	case <-time.After(p.gracefulTimeout):
	}

	p.logger.Warn("Graceful shutdown timed out, killing", "id", p.id, "timeout", p.gracefulTimeout)
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		if killErr := cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			p.logger.Error("Failed to kill process", "id", p.id, "error", killErr)
		}
	}
	select {
	case <-exited:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill", "id", p.id)
	}
	return 137
}

func (p *Process) streamOutput(r io.Reader, source string) {
	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if p.outputHandler != nil {
			p.outputHandler.HandleLine(source, line)
		}

		level, msg := slog.LevelInfo, line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}
		logger.Log(context.Background(), level, msg, "id", p.id)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Debug("Output stream ended", "id", p.id, "source", source, "error", err)
	}
}

// parseCommand splits a command line into arguments. Single and double
// quotes group words; a backslash escapes the next rune.
func parseCommand(command string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		quote   rune
		started bool
	)

	runes := []rune(strings.TrimSpace(command))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0 && r == quote:
			quote = 0
		case quote == 0 && (r == '"' || r == '\''):
			quote = r
			started = true
		case r == '\\' && i+1 < len(runes) && quote != '\'':
			i++
			cur.WriteRune(runes[i])
			started = true
		case r == ' ' && quote == 0:
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if quote != 0 {
		return nil, errors.New("unclosed quote in command")
	}
	if started {
		args = append(args, cur.String())
	}
	return args, nil
}

// Quote quotes an argument for parseCommand when it contains spaces or
// quotes.
func Quote(arg string) string {
	if arg == "" {
		return `""`
	}
	if !strings.ContainsAny(arg, " \"'\\") {
		return arg
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(arg) + `"`
}
