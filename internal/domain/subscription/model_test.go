package subscription

import (
	"testing"
	"time"

	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscription_EarliestTermination(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	sub := &Subscription{}
	termination, at := sub.EarliestTermination()
	assert.Empty(t, termination)
	assert.Nil(t, at)

	sub.ExpireAt = lo.ToPtr(base.AddDate(0, 2, 0))
	sub.CancelAt = lo.ToPtr(base.AddDate(0, 1, 0))
	termination, at = sub.EarliestTermination()
	assert.Equal(t, TerminationCancel, termination)
	assert.Equal(t, base.AddDate(0, 1, 0), *at)
	assert.Equal(t, types.PhaseStatusCanceled, termination.PhaseStatus())
}

func TestSubscription_InCurrentCycle(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := types.EndOf(start.AddDate(0, 1, 0))
	sub := &Subscription{CurrentCycleStartAt: &start, CurrentCycleEndAt: &end}

	assert.True(t, sub.InCurrentCycle(start))
	assert.True(t, sub.InCurrentCycle(end))
	assert.False(t, sub.InCurrentCycle(types.After(end)))
	assert.False(t, (&Subscription{}).InCurrentCycle(start))
}

func TestPhase_OverlapsAndCovers(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	first := &Phase{StartAt: jan, EndAt: lo.ToPtr(types.EndOf(feb))}
	second := &Phase{StartAt: feb}
	third := &Phase{StartAt: types.After(types.EndOf(feb)).Add(time.Hour)}

	assert.False(t, first.Overlaps(second))
	assert.False(t, second.Overlaps(first))
	assert.True(t, second.Overlaps(third))
	assert.True(t, first.Covers(jan))
	assert.False(t, first.Covers(feb))
	assert.True(t, second.Covers(feb.AddDate(10, 0, 0)))
}

func TestPhase_Validate(t *testing.T) {
	valid := func() *Phase {
		return &Phase{
			SubscriptionID:     "subs_1",
			PlanVersionID:      "planv_1",
			StartAt:            time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			WhenToBill:         types.WhenToBillPayInAdvance,
			CollectionMethod:   types.CollectionMethodChargeAutomatically,
			BillingAnchorDay:   1,
			BillingAnchorMonth: 1,
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(p *Phase)
	}{
		{"missing_plan_version", func(p *Phase) { p.PlanVersionID = "" }},
		{"end_before_start", func(p *Phase) { p.EndAt = lo.ToPtr(p.StartAt.Add(-time.Hour)) }},
		{"negative_trial", func(p *Phase) { p.TrialDays = -2 }},
		{"anchor_day", func(p *Phase) { p.BillingAnchorDay = 0 }},
		{"anchor_month", func(p *Phase) { p.BillingAnchorMonth = 13 }},
		{"when_to_bill", func(p *Phase) { p.WhenToBill = "sometimes" }},
		{"collection_method", func(p *Phase) { p.CollectionMethod = "cash" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, ierr.IsValidation(err))
		})
	}
}
