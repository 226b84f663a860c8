package process

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestProcess creates a Process with short timeouts for testing.
func newTestProcess(command string) *Process {
	p := NewProcess("test", command, testLogger())
	p.gracefulTimeout = 100 * time.Millisecond
	p.killTimeout = 100 * time.Millisecond
	return p
}

func runAsync(p *Process) <-chan int {
	done := make(chan int, 1)
	go func() {
		done <- p.Run()
	}()
	return done
}

func waitForExit(t *testing.T, done <-chan int, timeout time.Duration) int {
	t.Helper()
	select {
	case exitCode := <-done:
		return exitCode
	case <-time.After(timeout):
		t.Fatal("timeout waiting for process to exit")
		return -1
	}
}

func waitForState(t *testing.T, p *Process, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Info().State == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", p.Info().State, want)
}

func TestGracefulShutdown(t *testing.T) {
	p := newTestProcess(`sh -c "trap 'exit 0' INT TERM; while :; do sleep 0.1; done"`)
	p.gracefulTimeout = 500 * time.Millisecond

	done := runAsync(p)
	waitForState(t, p, StateRunning)
	if p.Info().PID == 0 {
		t.Error("expected pid while running")
	}
	p.Shutdown()

	if code := waitForExit(t, done, 2*time.Second); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if state := p.Info().State; state != StateIdle {
		t.Errorf("state after shutdown = %s, want idle", state)
	}
}

func TestForceKillAfterTimeout(t *testing.T) {
	p := newTestProcess(`sh -c "trap '' INT; while :; do sleep 0.1; done"`)

	done := runAsync(p)
	waitForState(t, p, StateRunning)
	p.Shutdown()

	if code := waitForExit(t, done, 2*time.Second); code != 137 {
		t.Errorf("exit code = %d, want 137", code)
	}
}

func TestProcessExitWithError(t *testing.T) {
	p := newTestProcess(`sh -c "exit 3"`)
	code := waitForExit(t, runAsync(p), 2*time.Second)
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
	info := p.Info()
	if info.State != StateError || info.LastError == nil {
		t.Errorf("info = %+v, want error state with LastError", info)
	}
}

func TestRunWithEmptyCommand(t *testing.T) {
	p := newTestProcess("   ")
	if code := p.Run(); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if p.Info().State != StateError {
		t.Errorf("state = %s, want error", p.Info().State)
	}
}

func TestRunWithNonExistentCommand(t *testing.T) {
	p := newTestProcess("/nonexistent/binary --flag")
	if code := p.Run(); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	p := newTestProcess("sleep 10")
	p.Shutdown()

	start := time.Now()
	if code := p.Run(); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if time.Since(start) > time.Second {
		t.Error("Run should return immediately after Shutdown")
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"ffmpeg -i in.mp4 out.flv", []string{"ffmpeg", "-i", "in.mp4", "out.flv"}},
		{`sh -c "trap 'exit 0' INT"`, []string{"sh", "-c", "trap 'exit 0' INT"}},
		{`a 'b c' d`, []string{"a", "b c", "d"}},
		{`a b\ c`, []string{"a", "b c"}},
		{`a "say \"hi\""`, []string{"a", `say "hi"`}},
		{`a ""`, []string{"a", ""}},
		{"  spaced   out  ", []string{"spaced", "out"}},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.in)
		if err != nil {
			t.Fatalf("parseCommand(%q): %v", tt.in, err)
		}
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("parseCommand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := parseCommand(`a "unterminated`); err == nil {
		t.Error("expected error for unclosed quote")
	}
}

func TestQuoteRoundTrip(t *testing.T) {
	args := []string{"plain", "with space", `back\slash`, `quote"d`, ""}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = Quote(a)
	}
	got, err := parseCommand(strings.Join(parts, " "))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(args) {
		t.Fatalf("got %d args, want %d: %q", len(got), len(args), got)
	}
	for i := range args {
		if got[i] != args[i] {
			t.Errorf("arg %d = %q, want %q", i, got[i], args[i])
		}
	}
}

type recordingHandler struct {
	mu    sync.Mutex
	lines map[string][]string
}

func (h *recordingHandler) HandleLine(source, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lines == nil {
		h.lines = make(map[string][]string)
	}
	h.lines[source] = append(h.lines[source], line)
}

func TestOutputHandler(t *testing.T) {
	h := &recordingHandler{}
	p := NewProcessWithOutput("test", `sh -c "echo out; echo err >&2"`, testLogger(), h)
	waitForExit(t, runAsync(p), 2*time.Second)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.lines["stdout"]) != 1 || h.lines["stdout"][0] != "out" {
		t.Errorf("stdout lines = %q", h.lines["stdout"])
	}
	if len(h.lines["stderr"]) != 1 || h.lines["stderr"][0] != "err" {
		t.Errorf("stderr lines = %q", h.lines["stderr"])
	}
}

func TestStreamOutputLogLevels(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf, mu: &mu}, &slog.HandlerOptions{Level: slog.LevelDebug}))

	p := newTestProcess(`sh -c "echo 'E: boom' >&2; echo 'W: careful' >&2; echo 'D: noise' >&2"`)
	p.SetLogParser(logger, func(line string) (slog.Level, string) {
		switch {
		case strings.HasPrefix(line, "E: "):
			return slog.LevelError, strings.TrimPrefix(line, "E: ")
		case strings.HasPrefix(line, "W: "):
			return slog.LevelWarn, strings.TrimPrefix(line, "W: ")
		default:
			return slog.LevelDebug, strings.TrimPrefix(line, "D: ")
		}
	})
	waitForExit(t, runAsync(p), 2*time.Second)

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	for _, want := range []string{"level=ERROR msg=boom", "level=WARN msg=careful", "level=DEBUG msg=noise"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

type lockedWriter struct {
	w  io.Writer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(b)
}

func TestPipesStdinToStdout(t *testing.T) {
	var out bytes.Buffer
	p := newTestProcess("cat")
	p.SetPipes(Pipes{Stdin: strings.NewReader("raw bytes\x00\x01"), Stdout: &out})

	if code := waitForExit(t, runAsync(p), 2*time.Second); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if out.String() != "raw bytes\x00\x01" {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestPipesExtraFile(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	p := newTestProcess(`sh -c "printf audio >&3"`)
	p.SetPipes(Pipes{ExtraFiles: []*os.File{w}})

	if code := waitForExit(t, runAsync(p), 2*time.Second); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "audio" {
		t.Errorf("fd 3 = %q, want audio", data)
	}
}
