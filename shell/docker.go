package shell

import (
	"context"
	"fmt"
	"strings"
)

// ContainerRunning reports whether the named container is up. Any failure
// to ask the daemon counts as not running.
func ContainerRunning(ctx context.Context, host Runner, container string) bool {
	if container == "" {
		return false
	}
	cmd := fmt.Sprintf("docker inspect -f '{{.State.Running}}' %s", Quote(container))
	res, err := host.Run(ctx, cmd, Options{Timeout: DefaultTimeout})
	if err != nil {
		return false
	}
	return strings.TrimSpace(res.Stdout) == "true"
}

// Quote wraps s in single quotes for sh.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
