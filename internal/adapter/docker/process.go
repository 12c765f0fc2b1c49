package docker

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"sync"
	"time"
)

// killTimeout bounds the in-container pkill issued by Kill.
const killTimeout = 10 * time.Second

// process is a docker exec invocation.
type process struct {
	provider  *Provider
	container string
	argv      []string
	cmd       *exec.Cmd
	out       io.Reader
	stdin     io.WriteCloser
	killOnce  sync.Once
}

// start launches docker exec. Output is stdout and stderr on one pipe, or
// stdout alone for interactive processes whose stdout carries a protocol.
func (p *Provider) start(ctx context.Context, container string, argv []string, interactive bool) (*process, error) {
	args := []string{"exec"}
	if interactive {
		args = append(args, "-i")
	}
	args = append(args, container)
	args = append(args, argv...)

	cmd := exec.CommandContext(ctx, p.cfg.Docker, args...) //nolint:gosec // G204: docker args are constructed internally, not from user input
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("output pipe: %w", err)
	}
	cmd.Stdout = w
	if interactive {
		cmd.Stderr = io.Discard
	} else {
		cmd.Stderr = w
	}

	proc := &process{provider: p, container: container, argv: argv, cmd: cmd, out: &closeOnEOF{f: r}}
	if interactive {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			_ = r.Close()
			_ = w.Close()
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		proc.stdin = stdin
	}

	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, fmt.Errorf("docker exec: %w", err)
	}
	// The child holds its own copy; closing ours lets the reader see EOF.
	_ = w.Close()
	return proc, nil
}

func (p *process) Output() io.Reader     { return p.out }
func (p *process) Stdin() io.WriteCloser { return p.stdin }
func (p *process) Wait() error           { return p.cmd.Wait() }

// Kill stops the docker CLI and the process it started in the container.
func (p *process) Kill() error {
	var err error
	p.killOnce.Do(func() {
		if p.cmd.Process != nil {
			err = p.cmd.Process.Kill()
		}
		ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
		defer cancel()
		p.provider.run(ctx, nil, "exec", p.container, "pkill", "-KILL", "-f", path.Base(p.argv[0]))
	})
	return err
}

// closeOnEOF closes the pipe once it is drained.
type closeOnEOF struct {
	f    *os.File
	once sync.Once
}

func (c *closeOnEOF) Read(b []byte) (int, error) {
	n, err := c.f.Read(b)
	if err != nil {
		_ = c.Close()
	}
	return n, err
}

// Close releases the pipe and unblocks a pending Read.
func (c *closeOnEOF) Close() error {
	var err error
	c.once.Do(func() { err = c.f.Close() })
	return err
}
