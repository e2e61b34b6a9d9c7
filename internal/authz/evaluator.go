package authz

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// SubjectStore loads a subject with its roles, grants, rules and departments.
// Implementations return ErrSubjectNotFound when the id does not resolve.
type SubjectStore interface {
	Subject(ctx context.Context, id int64) (Subject, error)
}

// DecisionRecorder observes every verdict produced by CheckPermission.
type DecisionRecorder interface {
	ObserveDecision(permission string, allowed, requiresApproval bool)
}

// Options tunes the evaluator.
type Options struct {
	Logger *slog.Logger
	// MissingContext decides how rules behave when their context field is absent.
	MissingContext MissingContextPolicy
	// Location, when set, converts evaluation time before business hours are checked.
	Location *time.Location
	// SnapshotConcurrency bounds parallel checks in EffectivePermissions.
	SnapshotConcurrency int
	Recorder            DecisionRecorder
	Clock               func() time.Time
}

// Service evaluates permissions against static grants and per-role dynamic rules.
// It holds no mutable state and is safe for concurrent use.
type Service struct {
	subjects  SubjectStore
	resources ResourceStore
	logger    *slog.Logger
	missing   MissingContextPolicy
	location  *time.Location
	limit     int
	recorder  DecisionRecorder
	now       func() time.Time
}

// NewService constructs a Service.
func NewService(subjects SubjectStore, resources ResourceStore, opts Options) *Service {
	s := &Service{
		subjects:  subjects,
		resources: resources,
		logger:    opts.Logger,
		missing:   opts.MissingContext,
		location:  opts.Location,
		limit:     opts.SnapshotConcurrency,
		recorder:  opts.Recorder,
		now:       opts.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.missing == "" {
		s.missing = MissingContextSkip
	}
	if s.limit <= 0 {
		s.limit = 4
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CheckPermission decides whether the subject in c may use permission. It never returns an
// error: store failures are logged and resolve to a denial.
func (s *Service) CheckPermission(ctx context.Context, permission string, c Context) Result {
	result := s.checkPermission(ctx, permission, c)
	if s.recorder != nil {
		s.recorder.ObserveDecision(permission, result.Allowed, result.RequiresApproval)
	}
	return result
}

func (s *Service) checkPermission(ctx context.Context, permission string, c Context) Result {
	if c.SubjectID == nil || *c.SubjectID <= 0 {
		return Deny(ReasonNotAuthenticated)
	}
	subject, err := s.subjects.Subject(ctx, *c.SubjectID)
	if err != nil {
		if errors.Is(err, ErrSubjectNotFound) {
			return Deny(ReasonUserNotFound)
		}
		s.logger.Error("authz check permission",
			slog.String("permission", permission),
			slog.Int64("subject_id", *c.SubjectID),
			slog.Any("error", err))
		return Deny(ReasonCheckFailed)
	}
	return s.evaluate(subject, permission, c)
}

// evaluate applies the static grant check and then each role's rules in ascending role id
// order. Any denying role denies the request; approval outcomes are carried forward and the
// last one wins.
func (s *Service) evaluate(subject Subject, permission string, c Context) Result {
	if !subject.HasPermission(permission) {
		return Deny(ReasonPermissionNotGranted)
	}
	in := RuleInput{
		Subject:        subject,
		Context:        c,
		Now:            s.evaluationTime(c),
		MissingContext: s.missing,
	}
	result := Allow()
	for _, role := range subject.orderedRoles() {
		if len(role.Rules) == 0 {
			continue
		}
		in.Role = role
		outcome := role.Rules.Apply(in)
		if !outcome.Allowed {
			return outcome
		}
		if outcome.RequiresApproval {
			result = outcome
		}
	}
	return result
}

func (s *Service) evaluationTime(c Context) time.Time {
	t := s.now()
	if c.Time != nil {
		t = *c.Time
	}
	if s.location != nil {
		t = t.In(s.location)
	}
	return t
}
