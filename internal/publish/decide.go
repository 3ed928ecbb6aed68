// Package publish decides whether a scored candidate may go live automatically.
package publish

import (
	"fmt"
	"strings"

	"github.com/bartek5186/pcmcatalog/internal/db"
	"github.com/bartek5186/pcmcatalog/internal/merge"
	"github.com/bartek5186/pcmcatalog/internal/quality"
)

const (
	ReasonDisabled = "auto-publish disabled for source"
	ReasonEligible = "meets auto-publish policy"
)

// Policy is the per-source auto-publish configuration.
type Policy struct {
	AutoPublishEnabled bool
	MinScoreThreshold  int
	RequiredFields     []string
}

func (p Policy) Snapshot() db.PolicySnapshot {
	req := make([]string, len(p.RequiredFields))
	copy(req, p.RequiredFields)
	return db.PolicySnapshot{
		AutoPublishEnabled: p.AutoPublishEnabled,
		MinScoreThreshold:  p.MinScoreThreshold,
		RequiredFields:     req,
	}
}

type Decision struct {
	Status   string
	Eligible bool
	Reason   string
}

// Decide applies the checks in fixed priority and reports the first one
// that blocks: disabled source, critical issues, missing required field,
// score below threshold.
func Decide(payload map[string]any, score quality.Result, policy Policy) Decision {
	if !policy.AutoPublishEnabled {
		return blocked(ReasonDisabled)
	}
	if len(score.Issues) > 0 {
		return blocked("critical issues present: " + strings.Join(score.Issues, ", "))
	}
	for _, field := range policy.RequiredFields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, ok := merge.Lookup(payload, field)
		if !ok || IsEmpty(v) {
			return blocked("required field missing: " + field)
		}
	}
	if score.Completeness < policy.MinScoreThreshold {
		return blocked(fmt.Sprintf("completeness score %d below threshold %d", score.Completeness, policy.MinScoreThreshold))
	}
	return Decision{Status: db.StatusPublished, Eligible: true, Reason: ReasonEligible}
}

func blocked(reason string) Decision {
	return Decision{Status: db.StatusDraft, Eligible: false, Reason: reason}
}

// IsEmpty treats nil, blank strings and empty collections as absent.
// Numbers and booleans always count as present.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}
