package aura

import (
	"errors"
	"fmt"
	"strings"

	"github.com/teambition/rrule-go"
)

// DefaultMaxOccurrences caps ExpandRecurrence when no limit is given.
const DefaultMaxOccurrences = 52

// ExpandRecurrence turns draft into one draft per occurrence of rule, an
// RFC 5545 RRULE value such as "FREQ=WEEKLY;COUNT=4" (an "RRULE:" prefix is
// accepted). The first occurrence starts at draft.Start and every
// occurrence keeps the draft's duration. At most limit drafts are returned;
// limit <= 0 means DefaultMaxOccurrences.
func ExpandRecurrence(draft EventDraft, rule string, limit int) ([]EventDraft, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	rule = strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:")
	if rule == "" {
		return nil, errors.New("empty recurrence rule")
	}
	if limit <= 0 {
		limit = DefaultMaxOccurrences
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("parse recurrence rule: %w", err)
	}
	r.DTStart(draft.Start.Time)

	duration := draft.End.Sub(draft.Start.Time)
	next := r.Iterator()
	out := make([]EventDraft, 0)
	for len(out) < limit {
		start, ok := next()
		if !ok {
			break
		}
		occ := draft
		occ.Start = At(start)
		occ.End = At(start.Add(duration))
		out = append(out, occ)
	}
	return out, nil
}
