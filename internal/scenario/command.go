package scenario

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/LeonWang0735/s3s-conformance/internal/backend"
)

// Command runs an external executable as a scenario. The bound environment is
// injected through environment variables; stdout and stderr are captured and
// a non-zero exit is reported as scenario failure.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// Name implements Scenario.
func (c *Command) Name() string {
	return filepath.Base(c.Path)
}

// Run implements Scenario.
func (c *Command) Run(ctx context.Context, env backend.BoundEnv) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Env = append(os.Environ(), env.EnvVars()...)

	out, err := cmd.CombinedOutput()
	output := string(out)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return output, fmt.Errorf("scenario timed out after %s", c.Timeout)
		}
		return output, fmt.Errorf("scenario %s: %w", c.Name(), err)
	}
	return output, nil
}
