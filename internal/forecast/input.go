package forecast

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// InputProvider supplies answers to interactive prompts.
type InputProvider interface {
	Input(ctx context.Context, prompt string) (string, error)
}

// InputFunc adapts a function to InputProvider.
type InputFunc func(ctx context.Context, prompt string) (string, error)

// Input implements InputProvider.
func (f InputFunc) Input(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type nonInteractive struct{}

func (nonInteractive) Input(context.Context, string) (string, error) {
	return "", nil
}

// NonInteractive answers every prompt with an empty string. The pipeline
// never prompts through it: follow-ups fall back to default assumptions and
// rejections are terminal.
var NonInteractive InputProvider = nonInteractive{}

// ConsoleInput reads answers line by line from r after printing prompts to w.
type ConsoleInput struct {
	w io.Writer
	r *bufio.Reader
}

// NewConsoleInput creates a ConsoleInput.
func NewConsoleInput(r io.Reader, w io.Writer) *ConsoleInput {
	return &ConsoleInput{w: w, r: bufio.NewReader(r)}
}

// Input prints prompt and returns the next line without its newline.
// EOF yields whatever was read so far.
func (c *ConsoleInput) Input(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := fmt.Fprint(c.w, prompt); err != nil {
		return "", eris.Wrap(err, "forecast: write prompt")
	}
	line, err := c.r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", eris.Wrap(err, "forecast: read input")
	}
	return strings.TrimSpace(line), nil
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
