package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/milkround/internal/schedule"
)

func TestUndoJournalRoundTrip(t *testing.T) {
	journal := NewUndoJournal(newRedis(t), time.Minute)
	ctx := context.Background()

	res, err := schedule.Split(milkPattern(), date(2024, 3, 1), schedule.PatternFields{UnitPrice: dec(220)})
	require.NoError(t, err)
	res.New.ID = 2

	token, err := journal.Put(ctx, res)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	peeked, err := journal.Peek(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(2), peeked.New.ID)

	got, err := journal.Take(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.New.ID)
	require.NotNil(t, got.Closed.EndDate)
	assert.True(t, got.Closed.EndDate.Equal(date(2024, 2, 29)))
	assert.True(t, got.New.UnitPrice.Equal(dec(220)))

	_, err = journal.Take(ctx, token)
	assert.ErrorIs(t, err, ErrUndoUnavailable)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = journal.Peek(ctx, token)
	assert.ErrorIs(t, err, ErrUndoUnavailable)
}

func TestUndoJournalWithoutRedis(t *testing.T) {
	journal := NewUndoJournal(nil, 0)
	token, err := journal.Put(context.Background(), schedule.SplitResult{})
	require.NoError(t, err)
	assert.Empty(t, token)

	_, err = journal.Take(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrUndoUnavailable)
	_, err = journal.Peek(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrUndoUnavailable)
}
