// Package shell implements the Remote Shell Gateway (C1, spec §4.1): a
// thin SSH layer that spawns and supervises one remote process per
// command. Grounded on the pack's sfab session wrapper (exec request,
// exit-status/exit-signal dispatch via the SSH requests channel, drain
// goroutines per stdio stream) and the teacher's tailBuffer ring buffer
// (internal/app/worker_manager.go), generalized to carry a configurable
// cap and a Windows-target quoting mode.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/jaakkos/stringwork-orchestrator/internal/errkind"
)

// DefaultTimeout and DefaultOutputCap implement the §4.1 defaults.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultOutputCap = 1 << 20 // ~1 MiB
)

// Target describes one SSH-reachable worker machine.
type Target struct {
	Host    string
	Port    int
	User    string
	Signer  ssh.Signer
	Windows bool // forces non-&& shell wrapping and forbids PTY
}

// ExecResult is the outcome of an Exec-one-shot call.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Success  bool
}

// SpawnOptions configures a Spawn-interactive call.
type SpawnOptions struct {
	UsePty     bool
	CloseStdin bool
	Timeout    time.Duration
	OutputCap  int
}

// Callbacks are invoked from Spawn-interactive's internal goroutines;
// implementations must not block for long or they will stall draining.
type Callbacks struct {
	OnStdout func([]byte)
	OnStderr func([]byte)
	OnExit   func(code int, err error)
}

// Handle lets a caller write to a spawned process's stdin and kill it.
type Handle struct {
	mu      sync.Mutex
	session *ssh.Session
	stdin   io.WriteCloser
	killed  bool
	tail    *TailBuffer
}

// Write sends bytes to the remote process's stdin.
func (h *Handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stdin == nil {
		return 0, errors.New("shell: stdin not open")
	}
	return h.stdin.Write(p)
}

// Kill sends SIGTERM to the remote process and closes the session.
func (h *Handle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.killed {
		return nil
	}
	h.killed = true
	_ = h.session.Signal(ssh.SIGTERM)
	return h.session.Close()
}

// Tail returns the last bytes of combined stdout+stderr output captured so
// far, for fatal-failure diagnostics (spec's supplemented tail-buffer
// feature; see DESIGN.md).
func (h *Handle) Tail() string {
	return h.tail.String()
}

// Gateway dials and authenticates SSH connections to configured targets.
// One Gateway instance is shared by every session the executor drives on
// one process; it keeps no per-target state beyond what ssh.Dial returns.
type Gateway struct {
	dialTimeout time.Duration
}

// NewGateway returns a Gateway with the default dial timeout.
func NewGateway() *Gateway {
	return &Gateway{dialTimeout: 10 * time.Second}
}

func (g *Gateway) dial(t Target) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(t.Signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // unattended batch mode, spec §4.1
		Timeout:         g.dialTimeout,
	}
	addr := fmt.Sprintf("%s:%d", t.Host, t.Port)
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, errkind.Wrap(errkind.Retriable, "ssh dial failed", err)
	}
	return client, nil
}

// wrapCommand applies the §4.1 target-resolution rules: Windows targets get
// their command statements joined with a separator valid for a non-&&
// shell and are never PTY-allocated; POSIX targets get an explicit PATH
// export prepended because the remote shell is non-login.
func wrapCommand(t Target, cmd string) string {
	if t.Windows {
		return strings.ReplaceAll(cmd, "&&", ";")
	}
	return "export PATH=\"$PATH:/usr/local/bin:/usr/bin\"; " + cmd
}

// ExecOneShot runs cmd on target and waits for completion or timeout.
func (g *Gateway) ExecOneShot(ctx context.Context, target Target, cmd string, timeout time.Duration, outputCap int) (ExecResult, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if outputCap <= 0 {
		outputCap = DefaultOutputCap
	}

	client, err := g.dial(target)
	if err != nil {
		return ExecResult{}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return ExecResult{}, errkind.Wrap(errkind.Retriable, "ssh new session failed", err)
	}
	defer session.Close()

	var stdout, stderr capBuffer
	stdout.cap = outputCap
	stderr.cap = outputCap
	session.Stdout = &stdout
	session.Stderr = &stderr

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- session.Run(wrapCommand(target, cmd)) }()

	select {
	case runErr := <-done:
		return buildExecResult(stdout.String(), stderr.String(), runErr), nil
	case <-runCtx.Done():
		_ = session.Signal(ssh.SIGTERM)
		<-done
		return ExecResult{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: -1,
			Success:  false,
		}, errkind.New(errkind.Timeout, "command exceeded timeout")
	}
}

func buildExecResult(stdout, stderr string, runErr error) ExecResult {
	if runErr == nil {
		return ExecResult{Stdout: stdout, Stderr: stderr, ExitCode: 0, Success: true}
	}
	var exitErr *ssh.ExitError
	if errors.As(runErr, &exitErr) {
		return ExecResult{Stdout: stdout, Stderr: stderr, ExitCode: exitErr.ExitStatus(), Success: false}
	}
	return ExecResult{Stdout: stdout, Stderr: stderr, ExitCode: -1, Success: false}
}

// SpawnInteractive runs cmd on target and streams output to cb via
// goroutines until both stdio streams are drained, per §4.1's rule that
// exit fires only after full drain (never on process exit alone).
func (g *Gateway) SpawnInteractive(ctx context.Context, target Target, cmd string, opts SpawnOptions, cb Callbacks) (*Handle, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.OutputCap <= 0 {
		opts.OutputCap = DefaultOutputCap
	}
	if target.Windows && opts.UsePty {
		return nil, errkind.New(errkind.Fatal, "pty not supported on windows targets")
	}

	client, err := g.dial(target)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, errkind.Wrap(errkind.Retriable, "ssh new session failed", err)
	}

	if opts.UsePty {
		if err := session.RequestPty("xterm-256color", 40, 160, ssh.TerminalModes{}); err != nil {
			session.Close()
			client.Close()
			return nil, errkind.Wrap(errkind.Fatal, "pty request failed", err)
		}
	}

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}
	stderrPipe, err := session.StderrPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}

	tail := NewTailBuffer(4096)
	handle := &Handle{session: session, stdin: stdin, tail: tail}

	if err := session.Start(wrapCommand(target, cmd)); err != nil {
		session.Close()
		client.Close()
		return nil, errkind.Wrap(errkind.Retriable, "ssh start failed", err)
	}
	if opts.CloseStdin {
		_ = stdin.Close()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go drain(&wg, stdoutPipe, tail, cb.OnStdout)
	go drain(&wg, stderrPipe, tail, cb.OnStderr)

	timer := time.AfterFunc(opts.Timeout, func() { _ = handle.Kill() })

	go func() {
		waitErr := session.Wait()
		timer.Stop()
		wg.Wait()
		client.Close()
		if cb.OnExit != nil {
			cb.OnExit(exitCodeOf(waitErr), waitErr)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = handle.Kill()
	}()

	return handle, nil
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}
	return -1
}

func drain(wg *sync.WaitGroup, r io.Reader, tail *TailBuffer, emit func([]byte)) {
	defer wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			tail.Write(chunk)
			if emit != nil {
				emit(chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

// capBuffer is a bytes.Buffer-like sink that stops growing past cap bytes,
// per §4.1's ~1 MiB output cap for exec-one-shot.
type capBuffer struct {
	data []byte
	cap  int
}

func (b *capBuffer) Write(p []byte) (int, error) {
	if len(b.data) >= b.cap {
		return len(p), nil
	}
	room := b.cap - len(b.data)
	if len(p) > room {
		p = p[:room]
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *capBuffer) String() string { return string(b.data) }

// TailBuffer is a ring buffer retaining the last N bytes written to it,
// grounded on the teacher's tailBuffer (internal/app/worker_manager.go),
// reused here at the shell layer so any spawned process's fatal output can
// carry a short tail excerpt regardless of which engine drove it.
type TailBuffer struct {
	mu   sync.Mutex
	buf  []byte
	size int
	pos  int
	full bool
}

// NewTailBuffer returns a TailBuffer retaining the last size bytes written.
func NewTailBuffer(size int) *TailBuffer {
	return &TailBuffer{buf: make([]byte, size), size: size}
}

func (tb *TailBuffer) Write(p []byte) (int, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	n := len(p)
	if n >= tb.size {
		copy(tb.buf, p[n-tb.size:])
		tb.pos = 0
		tb.full = true
		return n, nil
	}
	space := tb.size - tb.pos
	if n <= space {
		copy(tb.buf[tb.pos:], p)
	} else {
		copy(tb.buf[tb.pos:], p[:space])
		copy(tb.buf, p[space:])
	}
	tb.pos = (tb.pos + n) % tb.size
	if !tb.full && tb.pos < n {
		tb.full = true
	}
	return n, nil
}

func (tb *TailBuffer) String() string {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if !tb.full {
		return string(tb.buf[:tb.pos])
	}
	return string(tb.buf[tb.pos:]) + string(tb.buf[:tb.pos])
}
