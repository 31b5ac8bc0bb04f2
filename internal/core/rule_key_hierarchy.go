package core

import (
	"context"
	"errors"
	"fmt"

	"tracecore/pkg/domain"
)

// NewKeyHierarchyRule returns the rule ensuring the annotation-key namespace
// stays a forest: every parent link resolves and no chain loops back on
// itself.
func NewKeyHierarchyRule() domain.Rule {
	return keyHierarchyRule{}
}

type keyHierarchyRule struct{}

func (keyHierarchyRule) Name() string { return "key_hierarchy" }

func (keyHierarchyRule) Evaluate(_ context.Context, view domain.TransactionView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, key := range view.ListAnnotationKeys() {
		if key.ParentID == nil {
			continue
		}
		if _, err := view.ResolveAnnotationKeyPath(key.ID); err != nil {
			var cycle domain.ErrCycleDetected
			message := fmt.Sprintf("key %d (%s) has unresolvable ancestry: %v", key.ID, key.Name, err)
			if errors.As(err, &cycle) {
				message = fmt.Sprintf("key %d (%s) participates in a parent cycle through %d", key.ID, key.Name, cycle.Key)
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "key_hierarchy",
				Severity: domain.SeverityBlock,
				Message:  message,
				Entity:   domain.EntityAnnotationKey,
				EntityID: key.ID,
			})
		}
	}
	return res, nil
}
