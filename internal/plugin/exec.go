package plugin

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// newExec prepares an executable plugin. Each instance is one process that
// reads a JSON request per line on stdin and answers with a JSON reply line
// on stdout.
func newExec(path string, opts Options) (*Plugin, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("exec.LookPath %s: %w", path, err)
	}
	return &Plugin{
		name: filepath.Base(resolved),
		path: resolved,
		kind: "exec",
		opts: opts,
		open: func(context.Context) (transport, error) {
			pr, err := startProcess(resolved, opts)
			if err != nil {
				return nil, err
			}
			return pr, nil
		},
	}, nil
}

type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan lineResult
}

type lineResult struct {
	line []byte
	err  error
}

func startProcess(path string, opts Options) (*process, error) {
	cmd := exec.Command(path, opts.Args...)
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("cmd.StdinPipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("cmd.StdoutPipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("cmd.Start: %w", err)
	}

	pr := &process{cmd: cmd, stdin: stdin, lines: make(chan lineResult)}
	go func(r *bufio.Reader, lines chan<- lineResult) {
		defer close(lines)
		for {
			line, err := r.ReadBytes('\n')
			lines <- lineResult{line: line, err: err}
			if err != nil {
				return
			}
		}
	}(bufio.NewReader(stdout), pr.lines)
	return pr, nil
}

func (pr *process) call(ctx context.Context, input []byte) ([]byte, error) {
	if _, err := pr.stdin.Write(append(input, '\n')); err != nil {
		return nil, fmt.Errorf("stdin.Write: %w", err)
	}
	select {
	case r, ok := <-pr.lines:
		if !ok {
			return nil, io.ErrUnexpectedEOF
		}
		if r.err != nil && len(bytes.TrimSpace(r.line)) == 0 {
			return nil, fmt.Errorf("stdout.ReadBytes: %w", r.err)
		}
		return r.line, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no reply: %w", ctx.Err())
	}
}

func (pr *process) close() error {
	_ = pr.stdin.Close()
	if pr.cmd.Process != nil {
		_ = pr.cmd.Process.Kill()
	}
	// Unblock the reader so Wait can collect the pipes.
	go func() {
		for range pr.lines {
		}
	}()
	_ = pr.cmd.Wait()
	return nil
}
