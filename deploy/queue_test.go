package deploy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razumnyak/infractl/config"
)

func testDeployment(name string) config.Deployment {
	return config.Deployment{Name: name, Type: config.DeployCustomScript, Script: "/bin/true"}
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(10)
	a := NewJob(testDeployment("a"), "manual")
	b := NewJob(testDeployment("b"), "manual")
	q.Enqueue(a)
	q.Enqueue(b)

	assert.Equal(t, 2, q.PendingLen())

	first, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, "a", first.Deployment.Name)
	assert.Equal(t, StatusRunning, first.Status)

	live := q.Jobs()
	require.Len(t, live, 2)
	assert.Equal(t, "a", live[0].Deployment.Name)
	assert.Equal(t, "b", live[1].Deployment.Name)

	first.Status = StatusSuccess
	q.Finish(first)

	second, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, "b", second.Deployment.Name)

	_, ok = q.Next()
	assert.False(t, ok)
}

// The worker mutates its own copy of a job; readers only see the outcome
// once Finish writes it back.
func TestQueueHandsOutCopies(t *testing.T) {
	q := NewQueue(10)
	j := NewJob(testDeployment("a"), "manual")
	q.Enqueue(j)

	working, ok := q.Next()
	require.True(t, ok)
	working.Output = "partial output"
	working.Status = StatusSuccess

	seen, ok := q.Find(working.ID)
	require.True(t, ok)
	assert.Empty(t, seen.Output)
	assert.Equal(t, StatusRunning, seen.Status)

	q.Finish(working)

	seen, ok = q.Find(working.ID)
	require.True(t, ok)
	assert.Equal(t, "partial output", seen.Output)
	assert.Equal(t, StatusSuccess, seen.Status)
}

func TestQueueHistoryBound(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 5; i++ {
		q.Enqueue(NewJob(testDeployment(fmt.Sprintf("d%d", i)), "manual"))
		j, ok := q.Next()
		require.True(t, ok)
		j.Status = StatusSuccess
		q.Finish(j)
	}

	hist := q.History()
	require.Len(t, hist, 3)
	// Newest first, oldest two evicted.
	assert.Equal(t, "d4", hist[0].Deployment.Name)
	assert.Equal(t, "d2", hist[2].Deployment.Name)
}

func TestQueueCancel(t *testing.T) {
	q := NewQueue(10)
	j := NewJob(testDeployment("a"), "manual")
	q.Enqueue(j)

	require.True(t, q.Cancel(j.ID))
	assert.Equal(t, 0, q.PendingLen())
	assert.False(t, q.Cancel(j.ID))

	found, ok := q.Find(j.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, found.Status)
	assert.False(t, found.FinishedAt.IsZero())
}

func TestQueueFind(t *testing.T) {
	q := NewQueue(10)
	j := NewJob(testDeployment("a"), "manual")
	q.Enqueue(j)

	found, ok := q.Find(j.ID)
	require.True(t, ok)
	assert.Equal(t, j.ID, found.ID)
	assert.Equal(t, "local", found.Agent)

	_, ok = q.Find("nope")
	assert.False(t, ok)
}
