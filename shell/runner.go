// Package shell executes commands inside the runtime hosting a VPN backend.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/awgpanel/awg-manager/metrics"
	"github.com/awgpanel/awg-manager/model"
)

const (
	DefaultTimeout        = 5 * time.Second
	DefaultMaxBufferBytes = 10 * 1024 * 1024
)

// Options bound a single command execution. Zero values pick the defaults.
type Options struct {
	Timeout        time.Duration
	MaxBufferBytes int
	// Stdin is fed to the command when not empty.
	Stdin string
}

// Result is the captured output of a command
type Result struct {
	Stdout string
	Stderr string
}

// Runner runs shell commands. Implementations must honour the deadline of
// ctx and the bounds in Options.
type Runner interface {
	Run(ctx context.Context, cmd string, opts Options) (Result, error)
}

// CommandError is an execution failure that could not be classified.
type CommandError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("cannot execute command %q: %v", e.Command, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ErrOutputTooLarge is returned when a command writes more than MaxBufferBytes.
var ErrOutputTooLarge = errors.New("command output exceeds buffer limit")

// Local runs commands with `sh -c` on the host.
type Local struct{}

// Run implements Runner
func (Local) Run(ctx context.Context, cmd string, opts Options) (Result, error) {
	return execute(ctx, cmd, opts, "sh", "-c", cmd)
}

// DockerExec runs commands inside a container with `docker exec`.
type DockerExec struct {
	Container string
}

// NewDockerExec returns a Runner for the given container. An empty
// container name runs commands on the host.
func NewDockerExec(container string) Runner {
	if container == "" {
		return Local{}
	}
	return &DockerExec{Container: container}
}

// Run implements Runner
func (d *DockerExec) Run(ctx context.Context, cmd string, opts Options) (Result, error) {
	args := []string{"exec"}
	if opts.Stdin != "" {
		args = append(args, "-i")
	}
	args = append(args, d.Container, "sh", "-c", cmd)
	return execute(ctx, cmd, opts, "docker", args...)
}

func execute(ctx context.Context, cmd string, opts Options, name string, args ...string) (Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := opts.MaxBufferBytes
	if limit <= 0 {
		limit = DefaultMaxBufferBytes
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := &limitedBuffer{limit: limit}
	stderr := &limitedBuffer{limit: limit}
	c := exec.CommandContext(ctx, name, args...)
	c.Stdout = stdout
	c.Stderr = stderr
	if opts.Stdin != "" {
		c.Stdin = strings.NewReader(opts.Stdin)
	}
	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil && (stdout.overflow || stderr.overflow) {
		err = ErrOutputTooLarge
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", timeout, ctx.Err())
		}
		err = classify(cmd, res.Stderr, err)
		metrics.CommandFailures.WithLabelValues(failureClass(err)).Inc()
		log.Debugf("command failed: %v", err)
		return res, err
	}
	return res, nil
}

// classify maps an execution failure to the transport error class when the
// docker daemon or the container is unreachable.
func classify(cmd, stderr string, err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %v", model.ErrTransportUnavailable, err)
	}
	lower := strings.ToLower(stderr)
	for _, marker := range daemonUnavailable {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: docker daemon is not available: %s", model.ErrTransportUnavailable, strings.TrimSpace(stderr))
		}
	}
	for _, marker := range containerUnavailable {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: container is not available: %s", model.ErrTransportUnavailable, strings.TrimSpace(stderr))
		}
	}
	return &CommandError{Command: cmd, Stderr: stderr, Err: err}
}

func failureClass(err error) string {
	switch {
	case errors.Is(err, model.ErrTransportUnavailable):
		return "transport"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrOutputTooLarge):
		return "output"
	}
	return "exec"
}

var daemonUnavailable = []string{
	"cannot connect to the docker daemon",
	"is the docker daemon running",
	"error during connect",
	"permission denied while trying to connect to the docker daemon",
}

var containerUnavailable = []string{
	"no such container",
	"is not running",
	"is paused",
	"is restarting",
}

// limitedBuffer keeps at most limit bytes and remembers if more were written.
type limitedBuffer struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); len(p) > room {
		if room > 0 {
			b.buf.Write(p[:room])
		}
		b.overflow = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
