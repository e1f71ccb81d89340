package stems

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-stems/logging"
)

// CommandClassifier runs an external tagging command with the audio path
// as its last argument. The command prints a JSON object mapping labels to
// scores on stdout.
type CommandClassifier struct {
	Command string
	Args    []string
	Timeout time.Duration

	logger logging.Logger
}

// NewCommandClassifier parses a command line such as
// "python -m tagger --top 50". Arguments are split on whitespace.
func NewCommandClassifier(commandLine string, timeout time.Duration, logger logging.Logger) (*CommandClassifier, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty classifier command", ErrInvalidConfig)
	}
	return &CommandClassifier{
		Command: fields[0],
		Args:    fields[1:],
		Timeout: timeout,
		logger: logging.OrGlobal(logger).WithFields(logging.Fields{
			"component": "command_classifier",
		}),
	}, nil
}

// Classify runs the command on path and decodes its scores.
func (c *CommandClassifier) Classify(ctx context.Context, path string) (map[string]float64, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.Args...), path)
	cmd := exec.CommandContext(ctx, c.Command, args...)

	c.logger.Debug("Running classifier", logging.Fields{
		"command": fmt.Sprintf("%s %s", c.Command, strings.Join(args, " ")),
	})

	output, err := cmd.Output()
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return nil, fmt.Errorf("classifier failed: %w, stderr: %s", err, strings.TrimSpace(string(exitError.Stderr)))
		}
		return nil, fmt.Errorf("classifier failed: %w", err)
	}

	var scores map[string]float64
	if err := json.Unmarshal(output, &scores); err != nil {
		return nil, fmt.Errorf("failed to parse classifier output: %w", err)
	}
	return scores, nil
}
