package publish

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/pipeline"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/policy"
	"github.com/tupakulamanoj/elastic-contributor-copilot/tests/helpers"
)

type fakeCommenter struct {
	mu    sync.Mutex
	posts map[int][]string
	err   error
}

func (f *fakeCommenter) PostComment(ctx context.Context, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.posts == nil {
		f.posts = make(map[int][]string)
	}
	f.posts[number] = append(f.posts[number], body)
	return nil
}

func (f *fakeCommenter) count(number int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts[number])
}

func newPublisher(t *testing.T, commenter Commenter, ledger Ledger) *Publisher {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	pool := pipeline.NewWorkerPool(2)
	t.Cleanup(pool.Close)
	return NewPublisher(commenter, engine, ledger, pool, "elastic/elasticsearch")
}

func completedPR(id string) domain.Run {
	return domain.Run{
		RunID:       id,
		Mode:        domain.ModePR,
		Number:      95103,
		Status:      domain.RunStatusComplete,
		Success:     true,
		FinalOutput: "## Contributor Co-pilot Quality Report for PR #95103",
	}
}

func TestPublisherPostsEligibleReport(t *testing.T) {
	commenter := &fakeCommenter{}
	p := newPublisher(t, commenter, nil)

	p.RunFinished(context.Background(), completedPR("r1"))
	p.Wait()

	require.Equal(t, 1, commenter.count(95103))
	assert.Contains(t, commenter.posts[95103][0], "Quality Report")
}

func TestPublisherRespectsPolicy(t *testing.T) {
	commenter := &fakeCommenter{}
	p := newPublisher(t, commenter, nil)

	failed := completedPR("r1")
	failed.Success = false
	p.RunFinished(context.Background(), failed)

	errored := completedPR("r2")
	errored.Status = domain.RunStatusError
	p.RunFinished(context.Background(), errored)
	p.Wait()

	assert.Equal(t, 0, commenter.count(95103))
}

func TestPublisherPostsOncePerRun(t *testing.T) {
	commenter := &fakeCommenter{}
	store := helpers.NewTestSQLiteStore(t)
	p := newPublisher(t, commenter, store)

	p.RunFinished(context.Background(), completedPR("r1"))
	p.Wait()
	p.RunFinished(context.Background(), completedPR("r1"))
	p.Wait()

	assert.Equal(t, 1, commenter.count(95103))
	_, ok, err := store.GetSyncState(context.Background(), "published:r1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPublisherHostFailureNotRecorded(t *testing.T) {
	commenter := &fakeCommenter{err: errors.New("forbidden")}
	store := helpers.NewTestSQLiteStore(t)
	p := newPublisher(t, commenter, store)

	p.RunFinished(context.Background(), completedPR("r1"))
	p.Wait()

	_, ok, err := store.GetSyncState(context.Background(), "published:r1")
	require.NoError(t, err)
	assert.False(t, ok)
}
