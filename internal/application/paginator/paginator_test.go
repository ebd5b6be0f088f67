package paginator_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rezkam/mono/internal/application/paginator"
	"github.com/rezkam/mono/internal/domain"
)

func TestPager_MaxGranules(t *testing.T) {
	p := paginator.New(2)

	require.Equal(t, 2, p.MaxGranules(5, 0), "first page is capped at the page size")
	require.Equal(t, 2, p.MaxGranules(5, 1), "second page still has 3 remaining, capped at 2")
	require.Equal(t, 1, p.MaxGranules(5, 2), "third page has exactly 1 remaining")
	require.Equal(t, 0, p.MaxGranules(5, 3), "paginator is finished once the budget is exhausted")
}

func TestPager_MaxGranules_NeverNegative(t *testing.T) {
	p := paginator.New(10)
	require.Equal(t, 0, p.MaxGranules(5, 1), "over-dispatch must clamp to zero, not go negative")
}

func TestNextSuccessor_InheritsScrollTokenAndIncrementsSortIndex(t *testing.T) {
	prev := &domain.WorkItem{ID: "item-1", JobID: "job-1", StepIndex: 1, ServiceID: "cmr", SortIndex: 3}

	succ := paginator.NextSuccessor(prev, "scroll-xyz", 2)
	require.NotNil(t, succ)
	require.Equal(t, "scroll-xyz", succ.ScrollToken)
	require.Equal(t, int64(4), succ.SortIndex)
	require.Equal(t, domain.ItemReady, succ.Status)
	require.NotEmpty(t, succ.ID)
}

func TestNextSuccessor_NilWhenExhausted(t *testing.T) {
	prev := &domain.WorkItem{ID: "item-1", JobID: "job-1", StepIndex: 1, SortIndex: 3}
	require.Nil(t, paginator.NextSuccessor(prev, "scroll-xyz", 0))
}
