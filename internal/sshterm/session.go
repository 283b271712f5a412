// SPDX-License-Identifier: MPL-2.0

package sshterm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"golang.org/x/term"

	appsvc "github.com/faultlab/faultlab/internal/app"
	"github.com/faultlab/faultlab/internal/console"
	"github.com/faultlab/faultlab/internal/failure"
	"github.com/faultlab/faultlab/internal/scenario"
)

// termReader adapts a line-editing terminal to console.LineReader.
type termReader struct {
	t *term.Terminal
}

func (r termReader) ReadLine(prompt string) (string, error) {
	r.t.SetPrompt(prompt)
	return r.t.ReadLine()
}

// RequestFor maps an SSH login name of the form difficulty[.category] to
// a challenge request. Parts that do not parse are left empty.
func RequestFor(user string) appsvc.GenerateRequest {
	var req appsvc.GenerateRequest
	diff, cat, _ := strings.Cut(strings.ToLower(strings.TrimSpace(user)), ".")
	if d := scenario.Difficulty(diff); d.Validate() == nil {
		req.Difficulty = d
	}
	if c := scenario.Category(cat); c.Validate() == nil {
		req.Category = c
	}
	return req
}

func (s *Server) challengeMiddleware() wish.Middleware {
	return func(ssh.Handler) ssh.Handler {
		return s.play
	}
}

func (s *Server) play(sess ssh.Session) {
	_, winCh, _ := sess.Pty()
	t := term.NewTerminal(sess, "")
	go func() {
		for win := range winCh {
			_ = t.SetSize(win.Width, win.Height)
		}
	}()

	c := console.New(s.ops, termReader{t: t}, console.Options{
		Out:   t,
		Theme: console.PlainTheme(),
	})
	if err := c.Run(sess.Context(), RequestFor(sess.User())); err != nil {
		msg := err.Error()
		var ae *failure.ActionableError
		if errors.As(err, &ae) {
			msg = ae.Format(false)
		}
		fmt.Fprintln(t, "Error: "+msg)
		s.logger.Warn("SSH challenge failed", "user", sess.User(), "error", err)
		_ = sess.Exit(1)
		return
	}
	_ = sess.Exit(0)
}
