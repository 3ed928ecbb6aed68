package publish

import (
	"testing"

	"github.com/bartek5186/pcmcatalog/internal/db"
	"github.com/bartek5186/pcmcatalog/internal/quality"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	full := map[string]any{"name": "N", "brand": "B", "attributes": map[string]any{"ean": "590"}}
	clean := quality.Result{Completeness: 70}
	withIssue := quality.Result{Completeness: 30, Issues: []string{quality.IssueMissingImage}}

	cases := []struct {
		name     string
		payload  map[string]any
		score    quality.Result
		policy   Policy
		status   string
		eligible bool
		reason   string
	}{
		{
			name:    "disabled wins over everything",
			payload: map[string]any{},
			score:   withIssue,
			policy:  Policy{AutoPublishEnabled: false, MinScoreThreshold: 90, RequiredFields: []string{"gtin"}},
			status:  db.StatusDraft,
			reason:  ReasonDisabled,
		},
		{
			name:    "critical issue before threshold",
			payload: full,
			score:   withIssue,
			policy:  Policy{AutoPublishEnabled: true, MinScoreThreshold: 50},
			status:  db.StatusDraft,
			reason:  "critical issues present: missing_image",
		},
		{
			name:    "critical issue before required fields",
			payload: map[string]any{},
			score:   quality.Result{Completeness: 10, Issues: []string{"missing_image", "missing_price"}},
			policy:  Policy{AutoPublishEnabled: true, MinScoreThreshold: 50, RequiredFields: []string{"name"}},
			status:  db.StatusDraft,
			reason:  "critical issues present: missing_image, missing_price",
		},
		{
			name:    "required field before threshold",
			payload: map[string]any{"name": "N", "brand": "  "},
			score:   quality.Result{Completeness: 10},
			policy:  Policy{AutoPublishEnabled: true, MinScoreThreshold: 50, RequiredFields: []string{"name", "brand"}},
			status:  db.StatusDraft,
			reason:  "required field missing: brand",
		},
		{
			name:     "nested required field present",
			payload:  full,
			score:    clean,
			policy:   Policy{AutoPublishEnabled: true, MinScoreThreshold: 50, RequiredFields: []string{"attributes.ean"}},
			status:   db.StatusPublished,
			eligible: true,
			reason:   ReasonEligible,
		},
		{
			name:    "below threshold",
			payload: full,
			score:   quality.Result{Completeness: 40},
			policy:  Policy{AutoPublishEnabled: true, MinScoreThreshold: 50},
			status:  db.StatusDraft,
			reason:  "completeness score 40 below threshold 50",
		},
		{
			name:     "threshold is inclusive",
			payload:  full,
			score:    quality.Result{Completeness: 50},
			policy:   Policy{AutoPublishEnabled: true, MinScoreThreshold: 50},
			status:   db.StatusPublished,
			eligible: true,
			reason:   ReasonEligible,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(tc.payload, tc.score, tc.policy)
			require.Equal(t, tc.status, d.Status)
			require.Equal(t, tc.eligible, d.Eligible)
			require.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestDecideEndToEndWithScorer(t *testing.T) {
	// name, image, price, category; no description, no brand
	payload := map[string]any{
		"name":     "Mille e una Notte",
		"images":   []any{"a.jpg"},
		"price":    99.0,
		"category": "wine",
	}
	score := quality.Score(payload)
	require.Equal(t, 75, score.Completeness)

	d := Decide(payload, score, Policy{AutoPublishEnabled: true, MinScoreThreshold: 50, RequiredFields: []string{"name", "price"}})
	require.True(t, d.Eligible)
	require.Equal(t, db.StatusPublished, d.Status)
}

func TestIsEmpty(t *testing.T) {
	require.True(t, IsEmpty(nil))
	require.True(t, IsEmpty(" "))
	require.True(t, IsEmpty([]any{}))
	require.True(t, IsEmpty(map[string]any{}))
	require.False(t, IsEmpty(0.0))
	require.False(t, IsEmpty(false))
	require.False(t, IsEmpty("x"))
}
