package authz

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// EffectivePermissions runs a full check for every permission the subject holds and returns
// the verdict per token. Each check reloads the subject, so this costs one store round trip
// per permission and is meant for "what can I do" summaries, not per-request authorization.
func (s *Service) EffectivePermissions(ctx context.Context, subjectID int64, base Context) (map[string]Result, error) {
	subject, err := s.subjects.Subject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("authz: effective permissions: %w", err)
	}

	base.SubjectID = Ptr(subject.ID)
	base.TrustScore = Ptr(subject.TrustScore)

	perms := subject.EffectivePermissions()
	results := make(map[string]Result, len(perms))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for _, perm := range perms {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result := s.CheckPermission(gctx, perm, base)
			mu.Lock()
			results[perm] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("authz: effective permissions: %w", err)
	}
	return results, nil
}
