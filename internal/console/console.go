// SPDX-License-Identifier: MPL-2.0

package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"

	appsvc "github.com/faultlab/faultlab/internal/app"
	"github.com/faultlab/faultlab/internal/failure"
)

const (
	// Prompt is shown before every command line.
	Prompt = "faultlab> "

	instructions = `## Instructions

1. Investigate the issue with the usual Linux troubleshooting tools
2. Apply the fix
3. Type ` + "`verify`" + ` to check your solution
4. Type ` + "`hint`" + ` if you are stuck, ` + "`quit`" + ` to give up
`
)

type (
	// Operations is the service surface the loop drives.
	Operations interface {
		GenerateIssue(ctx context.Context, req appsvc.GenerateRequest) (appsvc.GenerateResult, error)
		ExecuteCommand(ctx context.Context, sessionID, line string) (appsvc.ExecuteResult, error)
		VerifySolution(ctx context.Context, sessionID string) (appsvc.VerifyResult, error)
		GetHint(ctx context.Context, sessionID string) (appsvc.HintResult, error)
		EndSession(ctx context.Context, sessionID string) error
	}

	// LineReader yields input lines. It returns io.EOF when input ends.
	LineReader interface {
		ReadLine(prompt string) (string, error)
	}

	// Theme styles console output.
	Theme struct {
		Muted   lipgloss.Style
		Success lipgloss.Style
		Error   lipgloss.Style
		Warning lipgloss.Style
		Prompt  lipgloss.Style
		Panel   lipgloss.Style
	}

	// Options configures a Console.
	Options struct {
		Out io.Writer
		// Err receives command errors; nil means Out.
		Err   io.Writer
		Theme Theme
		// Markdown renders challenge text and feedback; nil prints it as is.
		Markdown func(md string) string
		// Engine names the container CLI in the "open a shell" tip; empty
		// omits the tip.
		Engine string
		// Verbose includes error causes.
		Verbose bool
	}

	// Console runs practice challenges against a service.
	Console struct {
		ops  Operations
		in   LineReader
		opts Options
	}
)

// PlainTheme has no colors or borders beyond the panel outline.
func PlainTheme() Theme {
	return Theme{
		Panel: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1),
	}
}

// New creates a Console reading from in.
func New(ops Operations, in LineReader, opts Options) *Console {
	if opts.Err == nil {
		opts.Err = opts.Out
	}
	if opts.Markdown == nil {
		opts.Markdown = func(md string) string { return strings.TrimSpace(md) + "\n" }
	}
	return &Console{ops: ops, in: in, opts: opts}
}

// Run plays challenges until the learner declines another one, quits, or
// input ends. Every session it opens is ended before Run returns. A
// canceled ctx ends the loop without error.
func (c *Console) Run(ctx context.Context, req appsvc.GenerateRequest) error {
	for {
		solved, err := c.Challenge(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				c.println("\n" + c.opts.Theme.Muted.Render("Exiting, cleaning up the environment..."))
				return nil
			}
			return err
		}
		if !solved {
			break
		}
		again, err := c.confirm("Would you like to try another challenge? [y/N] ")
		if err != nil || !again {
			break
		}
	}
	c.println(c.opts.Theme.Muted.Render("Thanks for playing faultlab!"))
	return nil
}

// Challenge provisions one issue and reads commands until the learner
// solves it, quits, or input ends. The session is always ended.
func (c *Console) Challenge(ctx context.Context, req appsvc.GenerateRequest) (solved bool, err error) {
	c.println(c.opts.Theme.Muted.Render("Preparing environment..."))
	res, err := c.ops.GenerateIssue(ctx, req)
	if err != nil {
		return false, err
	}
	defer func() {
		if endErr := c.ops.EndSession(context.WithoutCancel(ctx), res.SessionID); endErr != nil {
			slog.Debug("end session failed", "session", res.SessionID, "error", endErr)
		}
	}()

	c.showChallenge(res)

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		line, err := c.in.ReadLine(c.opts.Theme.Prompt.Render(Prompt))
		if errors.Is(err, io.EOF) {
			c.println("")
			return false, nil
		}
		if err != nil {
			return false, err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			continue
		case "quit", "exit":
			return false, nil
		case "hint":
			h, err := c.ops.GetHint(ctx, res.SessionID)
			if err != nil {
				c.showError(err)
				continue
			}
			c.println(c.opts.Theme.Warning.Bold(true).Render("Hint: ") + h.Hint)
		case "verify":
			c.println(c.opts.Theme.Muted.Render("Verifying..."))
			v, err := c.ops.VerifySolution(ctx, res.SessionID)
			if err != nil {
				if ctx.Err() != nil {
					return false, err
				}
				c.showError(err)
				continue
			}
			feedback := strings.TrimSpace(c.opts.Markdown(v.Feedback))
			if v.Resolved {
				c.println(c.panel(c.opts.Theme.Success, "Congratulations!", feedback))
				return true, nil
			}
			c.println(c.panel(c.opts.Theme.Error, "Not quite right yet.", feedback))
		default:
			out, err := c.ops.ExecuteCommand(ctx, res.SessionID, line)
			if err != nil {
				if ctx.Err() != nil {
					return false, err
				}
				c.showError(err)
				continue
			}
			if out.Output != "" {
				fmt.Fprint(c.opts.Out, out.Output)
				if !strings.HasSuffix(out.Output, "\n") {
					c.println("")
				}
			}
		}
	}
}

func (c *Console) showChallenge(res appsvc.GenerateResult) {
	var md strings.Builder
	fmt.Fprintf(&md, "# %s\n\n%s\n\n", res.Title, res.Description)
	fmt.Fprintf(&md, "**Difficulty:** %s", res.Difficulty)
	if res.Category != "" {
		fmt.Fprintf(&md, "  \n**Category:** %s", res.Category)
	}
	md.WriteString("\n\n")
	md.WriteString(instructions)
	if c.opts.Engine != "" {
		fmt.Fprintf(&md, "\nYou can also open a shell directly: `%s exec -it %s bash`\n", c.opts.Engine, res.EnvironmentID.Short())
	}
	fmt.Fprint(c.opts.Out, c.opts.Markdown(md.String()))
}

func (c *Console) panel(accent lipgloss.Style, title, body string) string {
	return c.opts.Theme.Panel.
		BorderForeground(accent.GetForeground()).
		Render(accent.Bold(true).Render(title) + "\n\n" + body)
}

func (c *Console) showError(err error) {
	msg := err.Error()
	var ae *failure.ActionableError
	if errors.As(err, &ae) {
		msg = ae.Format(c.opts.Verbose)
	}
	fmt.Fprintln(c.opts.Err, c.opts.Theme.Error.Render("Error: ")+msg)
}

func (c *Console) confirm(question string) (bool, error) {
	line, err := c.in.ReadLine(question)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (c *Console) println(s string) {
	fmt.Fprintln(c.opts.Out, s)
}
