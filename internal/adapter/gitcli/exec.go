package gitcli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// runCmd executes a git or gh command with the non-interactive environment
// contract: GIT_TERMINAL_PROMPT=0 always, SSH_AUTH_SOCK / GIT_SSH_COMMAND /
// HOME inherited from the process. stdout and stderr are captured together.
//
// Failures are reported as "{operation} failed (exit {code}): {message}"
// where the message is the first "fatal:" line of the output, or the whole
// output joined when there is none.
func runCmd(ctx context.Context, dir, op, name string, extraEnv []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // G204: args are constructed internally, not from user input
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, extraEnv...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("%s failed (exit %d): %s", op, exitCode(err), fatalLine(out.String()))
	}
	return out.String(), nil
}

func exitCode(err error) int {
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

// fatalLine extracts the first "fatal:" line from git output, falling back
// to all non-empty lines joined with "; ".
func fatalLine(output string) string {
	lines := strings.Split(output, "\n")
	var nonEmpty []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "fatal:") {
			return line
		}
		nonEmpty = append(nonEmpty, line)
	}
	if len(nonEmpty) == 0 {
		return "no output"
	}
	return strings.Join(nonEmpty, "; ")
}
