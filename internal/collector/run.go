package collector

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// defaultCommandTimeout bounds every external command the acquisition
// layer runs. A hung system utility must not stall the whole cycle;
// a timeout counts as a source failure and triggers the next fallback.
const defaultCommandTimeout = 2 * time.Second

// runCommand executes name with args under a bounded timeout and
// returns its stdout. Non-zero exit, a missing binary and a timeout
// all surface as errors for the caller's fallback chain.
func runCommand(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s timed out: %w", name, ctx.Err())
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	return out, nil
}
