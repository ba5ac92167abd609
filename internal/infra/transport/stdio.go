package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"go.uber.org/zap"

	"tipr/internal/domain"
)

// StdioDialerOptions configures a subprocess-backed dialer.
type StdioDialerOptions struct {
	Command []string
	Env     map[string]string
	Cwd     string
	Logger  *zap.Logger
}

// StdioDialer spawns one subprocess per dialed connection and speaks the
// protocol over its stdin/stdout, newline-framed. The child's stderr is
// drained to the logger so a chatty tool process cannot block.
type StdioDialer struct {
	opts StdioDialerOptions
}

func NewStdioDialer(opts StdioDialerOptions) (*StdioDialer, error) {
	if len(opts.Command) == 0 || strings.TrimSpace(opts.Command[0]) == "" {
		return nil, errors.New("stdio dialer requires a command")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &StdioDialer{opts: opts}, nil
}

func (d *StdioDialer) Dial(ctx context.Context) (domain.Conn, error) {
	const op = "transport.stdio.dial"

	cmd := exec.Command(d.opts.Command[0], d.opts.Command[1:]...)
	if d.opts.Cwd != "" {
		cmd.Dir = d.opts.Cwd
	}
	if len(d.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), formatEnv(d.opts.Env)...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, domain.E(domain.CodeTransportError, op, "open stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, domain.E(domain.CodeTransportError, op, "open stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, domain.E(domain.CodeTransportError, op, "open stderr", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, domain.E(domain.CodeTransportError, op, "start process", err)
	}

	logger := d.opts.Logger.Named("stdio").With(zap.String("command", d.opts.Command[0]))
	go drainStderr(stderr, logger)

	closeFn := func() error {
		_ = stdin.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return cmd.Wait()
	}

	if err := ctx.Err(); err != nil {
		_ = closeFn()
		return nil, err
	}
	return newStreamConn(stdout, stdin, closeFn), nil
}

func drainStderr(stderr io.Reader, logger *zap.Logger) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 16<<10), 256<<10)
	for scanner.Scan() {
		logger.Debug("process stderr", zap.String("line", scanner.Text()))
	}
}

func formatEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(env))
	for _, key := range keys {
		out = append(out, fmt.Sprintf("%s=%s", key, env[key]))
	}
	return out
}
