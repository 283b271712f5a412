// SPDX-License-Identifier: MPL-2.0

package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/faultlab/faultlab/internal/container"
	"github.com/faultlab/faultlab/internal/failure"
	"github.com/faultlab/faultlab/internal/generator"
	"github.com/faultlab/faultlab/internal/hint"
	"github.com/faultlab/faultlab/internal/ledger"
	"github.com/faultlab/faultlab/internal/provision"
	"github.com/faultlab/faultlab/internal/runtime"
	"github.com/faultlab/faultlab/internal/scenario"
	"github.com/faultlab/faultlab/internal/session"
)

// shutdownParallelism bounds concurrent environment teardown in Shutdown.
const shutdownParallelism = 4

const (
	// EnvironmentProvisioning means the environment is still being built.
	EnvironmentProvisioning EnvironmentState = "provisioning"
	// EnvironmentMissing means the engine no longer knows the environment.
	EnvironmentMissing EnvironmentState = "missing"
	// EnvironmentUnknown means the engine could not be asked.
	EnvironmentUnknown EnvironmentState = "unknown"
)

var (
	// Compile-time interface checks
	_ Provisioner = (*provision.ImageProvisioner)(nil)
	_ Runner      = (*runtime.Executor)(nil)
)

type (
	// Provisioner realizes issues as environments. ImageTag and RemoveImage
	// let the service journal images and drop them when a session ends.
	// Inspect and Managed report on environments already started.
	Provisioner interface {
		provision.Provisioner
		ImageTag(issue *scenario.Issue) container.ImageTag
		RemoveImage(ctx context.Context, issue *scenario.Issue)
		Inspect(ctx context.Context, envID container.ContainerID) (*container.ContainerInfo, error)
		Managed(ctx context.Context) ([]container.ContainerID, error)
	}

	// Runner executes commands and verification scripts in environments.
	Runner interface {
		Execute(ctx context.Context, envID container.ContainerID, line string) (string, error)
		Verify(ctx context.Context, envID container.ContainerID, issue *scenario.Issue) (runtime.Verdict, error)
		Processes(ctx context.Context, envID container.ContainerID) ([]runtime.Process, error)
		StartProcess(ctx context.Context, envID container.ContainerID, command string) (bool, error)
	}

	// Dependencies are the collaborators of a Service. Generator, Provisioner
	// and Runner are required; nil Store, Hints and Ledger get defaults.
	Dependencies struct {
		Generator   generator.Generator
		Provisioner Provisioner
		Runner      Runner
		Store       *session.Store
		Hints       *hint.Sequencer
		Ledger      ledger.Ledger
		// EngineName is journaled with every environment.
		EngineName string
	}

	// Service implements the faultlab operations. It is safe for
	// concurrent use.
	Service struct {
		generator   generator.Generator
		provisioner Provisioner
		runner      Runner
		store       *session.Store
		hints       *hint.Sequencer
		ledger      ledger.Ledger
		engineName  string
		maxAttempts int
		keepImages  bool
		now         func() time.Time
		logger      *slog.Logger
	}

	// Option configures a Service.
	Option func(*Service)

	// GenerateRequest asks for a new challenge. Empty fields mean "any"
	// category and the default difficulty.
	GenerateRequest struct {
		Difficulty scenario.Difficulty `json:"difficulty"`
		Category   scenario.Category   `json:"category"`
	}

	// GenerateResult describes a freshly provisioned challenge.
	GenerateResult struct {
		SessionID     string                `json:"session_id"`
		Title         string                `json:"title"`
		Description   string                `json:"description"`
		Difficulty    scenario.Difficulty   `json:"difficulty"`
		Category      scenario.Category     `json:"category"`
		EnvironmentID container.ContainerID `json:"environment_id"`
	}

	// ExecuteResult is the output of one command line.
	ExecuteResult struct {
		Output string `json:"output"`
	}

	// VerifyResult is the outcome of a verification run.
	VerifyResult struct {
		Resolved bool   `json:"resolved"`
		Feedback string `json:"feedback"`
	}

	// HintResult is one labelled hint.
	HintResult struct {
		Hint string `json:"hint"`
	}

	// SessionInfo is the caller-visible view of a session. Scripts, hints
	// and the solution stay private. EnvironmentState is filled in by
	// Session only.
	SessionInfo struct {
		SessionID        string                 `json:"session_id"`
		IssueID          string                 `json:"issue_id"`
		Title            string                 `json:"title"`
		Description      string                 `json:"description"`
		Difficulty       scenario.Difficulty    `json:"difficulty"`
		Category         scenario.Category      `json:"category"`
		EnvironmentID    container.ContainerID  `json:"environment_id"`
		EnvironmentName  string                 `json:"environment_name,omitempty"`
		EnvironmentState EnvironmentState       `json:"environment_state,omitempty"`
		CreatedAt        time.Time              `json:"created_at"`
		History          []session.CommandEntry `json:"history"`
	}

	// EnvironmentState is the engine status of a session's environment
	// ("running", "exited", ...) or one of the EnvironmentState constants.
	EnvironmentState string

	// ProcessResult is an environment's process table, with the outcome of
	// a check or start when one was asked for.
	ProcessResult struct {
		Processes []runtime.Process `json:"processes"`
		Name      string            `json:"name,omitempty"`
		Running   bool              `json:"running"`
	}

	// ReapOptions widens what Reap removes.
	ReapOptions struct {
		// Labelled also removes every container carrying the managed label
		// that no session of this service owns, journaled or not.
		Labelled bool
	}

	// ReapResult lists environments removed by Reap.
	ReapResult struct {
		Removed []container.ContainerID `json:"removed"`
	}
)

// WithMaxAttempts bounds how often a structurally invalid issue is
// regenerated before the validation error is returned.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithKeepImages keeps scenario images after their last session ends.
func WithKeepImages(keep bool) Option {
	return func(s *Service) { s.keepImages = keep }
}

// WithClock sets the time source used for journal entries and history.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(deps Dependencies, opts ...Option) (*Service, error) {
	var missing []string
	if deps.Generator == nil {
		missing = append(missing, "generator")
	}
	if deps.Provisioner == nil {
		missing = append(missing, "provisioner")
	}
	if deps.Runner == nil {
		missing = append(missing, "runner")
	}
	if len(missing) > 0 {
		return nil, failure.New(failure.KindInternal, "create service", "missing "+strings.Join(missing, ", "))
	}

	s := &Service{
		generator:   deps.Generator,
		provisioner: deps.Provisioner,
		runner:      deps.Runner,
		store:       deps.Store,
		hints:       deps.Hints,
		ledger:      deps.Ledger,
		engineName:  deps.EngineName,
		maxAttempts: 1,
		keepImages:  true,
		now:         time.Now,
		logger:      slog.Default().With("component", "service"),
	}
	if s.store == nil {
		s.store = session.NewStore()
	}
	if s.hints == nil {
		s.hints = hint.NewSequencer()
	}
	if s.ledger == nil {
		s.ledger = ledger.Nop{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GenerateIssue obtains an issue, opens a session for it and provisions its
// environment. Provisioning happens outside any store lock; if it fails the
// session is discarded and the provisioning error returned.
func (s *Service) GenerateIssue(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	const op = "generate issue"

	if err := req.Difficulty.Validate(); err != nil {
		return GenerateResult{}, failure.InvalidInput(op, err.Error())
	}
	if err := req.Category.Validate(); err != nil {
		return GenerateResult{}, failure.InvalidInput(op, err.Error())
	}
	difficulty := req.Difficulty.OrDefault()

	issue, err := s.generate(ctx, difficulty, req.Category)
	if err != nil {
		return GenerateResult{}, err
	}

	sess, err := s.store.Create(issue)
	if err != nil {
		return GenerateResult{}, err
	}

	envID, err := s.provisioner.Provision(ctx, sess.Issue)
	if err != nil {
		_, _ = s.store.Delete(sess.ID)
		s.logger.Warn("provisioning failed", "session", sess.ID, "issue", issue.ID, "error", err)
		return GenerateResult{}, err
	}

	if err := s.store.SetEnvironment(sess.ID, envID); err != nil {
		// The session vanished while provisioning, e.g. through Shutdown.
		s.provisioner.Remove(context.WithoutCancel(ctx), envID)
		return GenerateResult{}, err
	}

	if err := s.ledger.Record(ctx, ledger.Entry{
		EnvironmentID: envID,
		SessionID:     sess.ID,
		IssueID:       sess.Issue.ID,
		Image:         s.provisioner.ImageTag(sess.Issue),
		Engine:        s.engineName,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("journal environment failed", "environment", envID.Short(), "error", err)
	}

	s.logger.Info("session started", "session", sess.ID, "issue", sess.Issue.ID, "environment", envID.Short())

	return GenerateResult{
		SessionID:     sess.ID,
		Title:         sess.Issue.Title,
		Description:   sess.Issue.Description,
		Difficulty:    sess.Issue.Difficulty,
		Category:      sess.Issue.Category,
		EnvironmentID: envID,
	}, nil
}

// generate asks the generator for an issue, retrying structurally invalid
// ones up to maxAttempts times in total.
func (s *Service) generate(ctx context.Context, difficulty scenario.Difficulty, category scenario.Category) (*scenario.Issue, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		issue, err := s.generator.Generate(ctx, difficulty, category)
		if err == nil {
			if err = issue.Validate(); err == nil {
				return issue, nil
			}
		}
		if !errors.Is(err, failure.ErrValidation) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("generated issue rejected", "attempt", attempt, "max_attempts", s.maxAttempts, "error", err)
	}
	return nil, lastErr
}

// ExecuteCommand runs line in the session's environment. A failing command
// is reported in the output text, not as an error.
func (s *Service) ExecuteCommand(ctx context.Context, sessionID, line string) (ExecuteResult, error) {
	const op = "execute command"

	if strings.TrimSpace(line) == "" {
		return ExecuteResult{}, failure.InvalidInput(op, "command is required")
	}
	sess, err := s.activeSession(op, sessionID)
	if err != nil {
		return ExecuteResult{}, err
	}

	output, err := s.runner.Execute(ctx, sess.EnvironmentID, line)
	if err != nil {
		return ExecuteResult{}, err
	}

	if err := s.store.RecordCommand(sessionID, session.CommandEntry{Command: line, Output: output, At: s.now()}); err != nil {
		s.logger.Debug("record command skipped", "session", sessionID, "error", err)
	}
	return ExecuteResult{Output: output}, nil
}

// VerifySolution runs the issue's verification script in the session's
// environment.
func (s *Service) VerifySolution(ctx context.Context, sessionID string) (VerifyResult, error) {
	sess, err := s.activeSession("verify solution", sessionID)
	if err != nil {
		return VerifyResult{}, err
	}

	verdict, err := s.runner.Verify(ctx, sess.EnvironmentID, sess.Issue)
	if err != nil {
		return VerifyResult{}, err
	}

	s.logger.Info("verification finished", "session", sessionID, "resolved", verdict.Resolved, "exit_code", verdict.ExitCode)
	return VerifyResult{Resolved: verdict.Resolved, Feedback: verdict.Feedback}, nil
}

// GetHint returns the next hint for the session's issue.
func (s *Service) GetHint(_ context.Context, sessionID string) (HintResult, error) {
	sess, err := s.lookup("get hint", sessionID)
	if err != nil {
		return HintResult{}, err
	}
	text := s.hints.Next(hint.Key{SessionID: sess.ID, IssueID: sess.Issue.ID}, sess.Issue)
	return HintResult{Hint: text}, nil
}

// Session returns the caller-visible view of a session, including the
// current state of its environment.
func (s *Service) Session(ctx context.Context, sessionID string) (SessionInfo, error) {
	sess, err := s.lookup("get session", sessionID)
	if err != nil {
		return SessionInfo{}, err
	}
	info := sessionInfo(sess)
	if sess.Pending() {
		info.EnvironmentState = EnvironmentProvisioning
		return info, nil
	}

	ci, err := s.provisioner.Inspect(ctx, sess.EnvironmentID)
	switch {
	case errors.Is(err, container.ErrContainerNotFound):
		info.EnvironmentState = EnvironmentMissing
	case err != nil:
		s.logger.Debug("inspect environment failed", "environment", sess.EnvironmentID.Short(), "error", err)
		info.EnvironmentState = EnvironmentUnknown
	default:
		info.EnvironmentName = ci.Name
		info.EnvironmentState = EnvironmentState(ci.Status)
	}
	return info, nil
}

// Processes lists the processes of the session's environment. A non-empty
// name is checked against the list.
func (s *Service) Processes(ctx context.Context, sessionID, name string) (ProcessResult, error) {
	sess, err := s.activeSession("list processes", sessionID)
	if err != nil {
		return ProcessResult{}, err
	}
	procs, err := s.runner.Processes(ctx, sess.EnvironmentID)
	if err != nil {
		return ProcessResult{}, err
	}
	return ProcessResult{Processes: procs, Name: name, Running: runtime.ProcessRunning(procs, name)}, nil
}

// StartProcess launches command in the background of the session's
// environment, for services a scenario expects to be running.
func (s *Service) StartProcess(ctx context.Context, sessionID, command string) (ProcessResult, error) {
	const op = "start process"
	if strings.TrimSpace(command) == "" {
		return ProcessResult{}, failure.InvalidInput(op, "command is required")
	}
	sess, err := s.activeSession(op, sessionID)
	if err != nil {
		return ProcessResult{}, err
	}
	running, err := s.runner.StartProcess(ctx, sess.EnvironmentID, command)
	if err != nil {
		return ProcessResult{}, err
	}
	procs, err := s.runner.Processes(ctx, sess.EnvironmentID)
	if err != nil {
		return ProcessResult{}, err
	}
	s.logger.Info("process started", "session", sessionID, "command", command, "running", running)
	return ProcessResult{Processes: procs, Name: strings.Fields(command)[0], Running: running}, nil
}

// Sessions lists all sessions, oldest first.
func (s *Service) Sessions(context.Context) []SessionInfo {
	all := s.store.List()
	out := make([]SessionInfo, 0, len(all))
	for _, sess := range all {
		out = append(out, sessionInfo(sess))
	}
	return out
}

// EndSession deletes the session, forgets its hint cursor and tears down
// its environment. Teardown is best-effort; only an unknown session is an
// error.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return failure.InvalidInput("end session", "session id is required")
	}
	sess, err := s.store.Delete(sessionID)
	if err != nil {
		return err
	}

	s.hints.Forget(hint.Key{SessionID: sess.ID, IssueID: sess.Issue.ID})

	if !sess.Pending() {
		s.provisioner.Remove(ctx, sess.EnvironmentID)
		if err := s.ledger.MarkRemoved(ctx, sess.EnvironmentID); err != nil {
			s.logger.Warn("journal removal failed", "environment", sess.EnvironmentID.Short(), "error", err)
		}
	}

	if !s.keepImages && !s.imageInUse(s.provisioner.ImageTag(sess.Issue)) {
		s.provisioner.RemoveImage(ctx, sess.Issue)
	}

	s.logger.Info("session ended", "session", sess.ID, "issue", sess.Issue.ID)
	return nil
}

// Shutdown ends every session. Sessions ended concurrently by other callers
// are skipped.
func (s *Service) Shutdown(ctx context.Context) error {
	sessions := s.store.List()
	if len(sessions) == 0 {
		return nil
	}
	s.logger.Info("ending sessions", "count", len(sessions))

	var g errgroup.Group
	g.SetLimit(shutdownParallelism)
	for _, sess := range sessions {
		g.Go(func() error {
			if err := s.EndSession(ctx, sess.ID); err != nil && !errors.Is(err, failure.ErrNotFound) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Reap removes journaled environments that no session of this service owns,
// typically left behind by a process that exited without cleaning up. With
// opts.Labelled it also removes unowned containers carrying the managed
// label, which catches environments that were started but never journaled.
func (s *Service) Reap(ctx context.Context, opts ReapOptions) (ReapResult, error) {
	live, err := s.ledger.Live(ctx)
	if err != nil {
		return ReapResult{}, failure.Wrap(err, failure.KindInternal, "list journaled environments")
	}

	candidates := make([]container.ContainerID, 0, len(live))
	for _, entry := range live {
		candidates = append(candidates, entry.EnvironmentID)
	}
	if opts.Labelled {
		managed, err := s.provisioner.Managed(ctx)
		if err != nil {
			return ReapResult{}, failure.Wrap(err, failure.KindProvisioning, "list managed environments")
		}
		candidates = append(candidates, managed...)
	}

	owned := make(map[container.ContainerID]bool)
	for _, sess := range s.store.List() {
		if !sess.Pending() {
			owned[sess.EnvironmentID] = true
		}
	}

	var result ReapResult
	seen := make(map[container.ContainerID]bool)
	for _, id := range candidates {
		if owned[id] || seen[id] {
			continue
		}
		seen[id] = true
		if err := ctx.Err(); err != nil {
			return result, failure.Wrap(err, failure.KindTimeout, "reap environments")
		}
		s.provisioner.Remove(ctx, id)
		if err := s.ledger.MarkRemoved(ctx, id); err != nil {
			s.logger.Warn("journal removal failed", "environment", id.Short(), "error", err)
		}
		result.Removed = append(result.Removed, id)
	}

	if len(result.Removed) > 0 {
		s.logger.Info("reaped orphaned environments", "count", len(result.Removed))
	}
	return result, nil
}

// lookup fetches a session by id, rejecting an empty id as invalid input.
func (s *Service) lookup(op, sessionID string) (session.Session, error) {
	if sessionID == "" {
		return session.Session{}, failure.InvalidInput(op, "session id is required")
	}
	return s.store.Get(sessionID)
}

// activeSession is lookup for operations that need a running environment.
func (s *Service) activeSession(op, sessionID string) (session.Session, error) {
	sess, err := s.lookup(op, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if sess.Pending() {
		return session.Session{}, failure.NewErrorContext().
			WithKind(failure.KindProvisioning).
			WithOperation(op).
			WithResource(sessionID).
			WithSuggestion("Wait for the environment to finish provisioning").
			Wrap(errors.New("session has no running environment")).
			BuildError()
	}
	return sess, nil
}

func (s *Service) imageInUse(tag container.ImageTag) bool {
	for _, sess := range s.store.List() {
		if s.provisioner.ImageTag(sess.Issue) == tag {
			return true
		}
	}
	return false
}

func sessionInfo(sess session.Session) SessionInfo {
	return SessionInfo{
		SessionID:     sess.ID,
		IssueID:       sess.Issue.ID,
		Title:         sess.Issue.Title,
		Description:   sess.Issue.Description,
		Difficulty:    sess.Issue.Difficulty,
		Category:      sess.Issue.Category,
		EnvironmentID: sess.EnvironmentID,
		CreatedAt:     sess.CreatedAt,
		History:       sess.History,
	}
}
