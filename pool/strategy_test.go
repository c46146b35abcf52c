package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selectN(t *testing.T, p *Pool, n int) []string {
	t.Helper()
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name, err := p.Select()
		require.NoError(t, err)
		names = append(names, name)
		p.MarkSuccess(name)
	}
	return names
}

func TestRoundRobinFairness(t *testing.T) {
	p, _ := newTestPool(t, RoundRobin, "a", "b", "c")

	const jobs = 10
	counts := map[string]int{}
	var prevCycle map[string]bool

	names := selectN(t, p, jobs)
	for i, name := range names {
		counts[name]++
		// No member repeats before all others were visited once.
		if i%3 == 0 {
			prevCycle = map[string]bool{}
		}
		assert.False(t, prevCycle[name], "member %s repeated within a cycle at job %d", name, i)
		prevCycle[name] = true
	}

	for _, member := range []string{"a", "b", "c"} {
		assert.InDelta(t, float64(jobs)/3, float64(counts[member]), 1,
			"member %s got %d of %d jobs", member, counts[member], jobs)
	}
}

func TestRoundRobinSkipsQuarantinedWithoutConsumingSlot(t *testing.T) {
	p, _ := newTestPool(t, RoundRobin, "a", "b", "c")

	require.NoError(t, p.Quarantine("b"))

	names := selectN(t, p, 4)
	assert.Equal(t, []string{"a", "c", "a", "c"}, names)
}

func TestLoadBalancePicksLowestInFlight(t *testing.T) {
	p, _ := newTestPool(t, LoadBalance, "a", "b", "c")

	take := func(want string) {
		t.Helper()
		name, err := p.Select()
		require.NoError(t, err)
		require.Equal(t, want, name)
	}

	// All counts zero: ties break by declaration order.
	take("a") // {a:1 b:0 c:0}
	take("b") // {a:1 b:1 c:0}
	take("c") // {a:1 b:1 c:1}
	take("a") // three-way tie at 1, declaration order again

	// Arrange {a:2, b:0, c:1}: the next selection must be b.
	p.MarkSuccess("b")
	take("b")
}

func TestSelectExcludesTriedMembers(t *testing.T) {
	p, _ := newTestPool(t, FailoverOnly, "primary", "backup")

	// A Suspect primary is still first in line, but a job that already
	// failed on it must be offered the backup instead.
	name, err := p.Select()
	require.NoError(t, err)
	require.Equal(t, "primary", name)
	p.MarkFailure("primary")

	name, err = p.Select("primary")
	require.NoError(t, err)
	assert.Equal(t, "backup", name)
	p.MarkSuccess("backup")

	_, err = p.Select("primary", "backup")
	assert.ErrorIs(t, err, ErrNoRoutableMembers)
}

func TestFailoverOnlyPrefersPrimary(t *testing.T) {
	p, _ := newTestPool(t, FailoverOnly, "primary", "backup")

	names := selectN(t, p, 3)
	assert.Equal(t, []string{"primary", "primary", "primary"}, names)

	// Suspect primary still takes jobs.
	_, err := p.Select()
	require.NoError(t, err)
	p.MarkFailure("primary")

	name, err := p.Select()
	require.NoError(t, err)
	assert.Equal(t, "primary", name)
	p.MarkSuccess("primary")
}

func TestFailoverOnlyFailsOverWhileQuarantined(t *testing.T) {
	p, _ := newTestPool(t, FailoverOnly, "primary", "backup", "spare")

	require.NoError(t, p.Quarantine("primary"))

	names := selectN(t, p, 2)
	assert.Equal(t, []string{"backup", "backup"}, names)

	require.NoError(t, p.Quarantine("backup"))
	name, err := p.Select()
	require.NoError(t, err)
	assert.Equal(t, "spare", name)
	p.MarkSuccess("spare")
}
