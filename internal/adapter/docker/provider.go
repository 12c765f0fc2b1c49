// Package docker implements the sandbox port on top of the docker CLI. Each
// session gets its own long-running container started from the project's
// OSS-Fuzz style image.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/harnessforge/harnessforge/internal/buildpool"
	"github.com/harnessforge/harnessforge/internal/config"
	"github.com/harnessforge/harnessforge/internal/domain/target"
	"github.com/harnessforge/harnessforge/internal/port/sandbox"
)

// Provider hands out one container-backed Sandbox per session.
type Provider struct {
	cfg    config.Sandbox
	pool   *buildpool.Pool
	builds singleflight.Group
}

// NewProvider creates a Provider. pool bounds concurrent image builds.
func NewProvider(cfg config.Sandbox, pool *buildpool.Pool) *Provider {
	return &Provider{cfg: cfg, pool: pool}
}

// Acquire returns a fresh sandbox for task. No container exists until
// BuildImage succeeds.
func (p *Provider) Acquire(_ context.Context, task target.Task) (sandbox.Sandbox, error) {
	return &Sandbox{
		provider: p,
		task:     task,
		image:    p.imageName(task.Project),
		name:     "harnessforge-" + shortID(uuid.NewString()),
		written:  make(map[string]bool),
	}, nil
}

func (p *Provider) imageName(project string) string {
	return strings.TrimSuffix(p.cfg.ImagePrefix, "/") + "/" + strings.ToLower(project)
}

// buildImage runs docker build at most once concurrently per image, throttled
// by the build pool.
func (p *Provider) buildImage(ctx context.Context, image, contextDir string) (string, error) {
	v, err, _ := p.builds.Do(image, func() (any, error) {
		var log string
		err := p.pool.Run(ctx, func() error {
			buildCtx := ctx
			if p.cfg.BuildTimeout > 0 {
				var cancel context.CancelFunc
				buildCtx, cancel = context.WithTimeout(ctx, p.cfg.BuildTimeout)
				defer cancel()
			}
			res := p.run(buildCtx, nil, "build", "-t", image, contextDir)
			log = res.combined()
			return res.err
		})
		return log, err
	})
	log, _ := v.(string)
	return log, err
}

// runResult is the outcome of one docker CLI invocation.
type runResult struct {
	stdout string
	stderr string
	err    error
}

func (r runResult) combined() string {
	if r.stderr == "" {
		return r.stdout
	}
	if r.stdout == "" {
		return r.stderr
	}
	return r.stdout + "\n" + r.stderr
}

// run executes a docker command with optional stdin.
func (p *Provider) run(ctx context.Context, stdin io.Reader, args ...string) runResult {
	cmd := exec.CommandContext(ctx, p.cfg.Docker, args...) //nolint:gosec // G204: docker args are constructed internally, not from user input
	cmd.Stdin = stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		err = fmt.Errorf("docker %s: %s: %w", args[0], strings.TrimSpace(stderr.String()), err)
	}
	return runResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// shortID returns the first 12 characters of an ID (or the full string if shorter).
func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
