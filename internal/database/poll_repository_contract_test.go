package database

import (
	"context"
	"sync"
	"testing"

	"github.com/pscheid92/pollpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPollRepository runs the behaviour every domain.PollRepository must share.
func testPollRepository(t *testing.T, newRepo func(t *testing.T) domain.PollRepository) {
	t.Run("create then get", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.CreatePoll(ctx, "Tabs or spaces?", []string{"tabs", "spaces", "both"})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Zero(t, created.Total)
		require.Len(t, created.Choices, 3)

		got, err := repo.GetPoll(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created, got)
		assert.Equal(t, []domain.Choice{{Text: "tabs"}, {Text: "spaces"}, {Text: "both"}}, got.Choices)
	})

	t.Run("ids are unique", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		a, err := repo.CreatePoll(ctx, "a", []string{"x", "y"})
		require.NoError(t, err)
		b, err := repo.CreatePoll(ctx, "a", []string{"x", "y"})
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("get unknown", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.GetPoll(context.Background(), "does-not-exist")
		assert.ErrorIs(t, err, domain.ErrPollNotFound)
	})

	t.Run("overwrite counts", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		poll, err := repo.CreatePoll(ctx, "Best pet?", []string{"cat", "dog"})
		require.NoError(t, err)

		require.NoError(t, repo.OverwriteCounts(ctx, poll.ID, 5, []int64{3, 2}))
		require.NoError(t, repo.OverwriteCounts(ctx, poll.ID, 7, []int64{4, 3}))

		got, err := repo.GetPoll(ctx, poll.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.Total)
		assert.Equal(t, int64(4), got.Choices[0].Count)
		assert.Equal(t, int64(3), got.Choices[1].Count)
		assert.Equal(t, "cat", got.Choices[0].Text)
	})

	t.Run("overwrite unknown poll", func(t *testing.T) {
		repo := newRepo(t)

		err := repo.OverwriteCounts(context.Background(), "ghost", 1, []int64{1})
		assert.ErrorIs(t, err, domain.ErrPollNotFound)
	})

	t.Run("overwrite is all or nothing", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		poll, err := repo.CreatePoll(ctx, "Best pet?", []string{"cat", "dog"})
		require.NoError(t, err)
		require.NoError(t, repo.OverwriteCounts(ctx, poll.ID, 2, []int64{1, 1}))

		err = repo.OverwriteCounts(ctx, poll.ID, 9, []int64{9})
		assert.ErrorIs(t, err, domain.ErrInvalidPoll)

		got, err := repo.GetPoll(ctx, poll.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Total)
		assert.Equal(t, int64(1), got.Choices[0].Count)
	})

	t.Run("lower total is superseded", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		poll, err := repo.CreatePoll(ctx, "Best pet?", []string{"cat", "dog"})
		require.NoError(t, err)
		require.NoError(t, repo.OverwriteCounts(ctx, poll.ID, 2, []int64{1, 1}))

		err = repo.OverwriteCounts(ctx, poll.ID, 1, []int64{1, 0})
		assert.ErrorIs(t, err, domain.ErrCountsSuperseded)

		got, err := repo.GetPoll(ctx, poll.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Total)
		assert.Equal(t, int64(1), got.Choices[0].Count)
		assert.Equal(t, int64(1), got.Choices[1].Count)
	})

	t.Run("equal total is rewritten", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		poll, err := repo.CreatePoll(ctx, "Best pet?", []string{"cat", "dog"})
		require.NoError(t, err)
		require.NoError(t, repo.OverwriteCounts(ctx, poll.ID, 2, []int64{2, 0}))
		require.NoError(t, repo.OverwriteCounts(ctx, poll.ID, 2, []int64{1, 1}))

		got, err := repo.GetPoll(ctx, poll.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Choices[0].Count)
		assert.Equal(t, int64(1), got.Choices[1].Count)
	})

	t.Run("concurrent overwrites stay consistent", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		poll, err := repo.CreatePoll(ctx, "Best pet?", []string{"cat", "dog"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := int64(1); i <= 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.OverwriteCounts(ctx, poll.ID, 2*i, []int64{i, i})
				if err != nil {
					assert.ErrorIs(t, err, domain.ErrCountsSuperseded)
				}
			}()
		}
		wg.Wait()

		got, err := repo.GetPoll(ctx, poll.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(16), got.Total)
		assert.Equal(t, got.Total, got.Choices[0].Count+got.Choices[1].Count)
	})
}
