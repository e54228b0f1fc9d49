package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/milkround/internal/schedule"
)

// ErrUndoUnavailable indicates the undo token expired, was used, or never existed.
var ErrUndoUnavailable = fmt.Errorf("%w: undo token unavailable", ErrNotFound)

// UndoJournal remembers persisted splits for a short window so the operator
// can reverse them.
type UndoJournal struct {
	client *redis.Client
	ttl    time.Duration
}

// NewUndoJournal builds the journal.
func NewUndoJournal(client *redis.Client, ttl time.Duration) *UndoJournal {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &UndoJournal{client: client, ttl: ttl}
}

func undoKey(token string) string {
	return "billing:undo:" + token
}

// Put stores res and returns its token. A journal without Redis returns an
// empty token.
func (j *UndoJournal) Put(ctx context.Context, res schedule.SplitResult) (string, error) {
	if j == nil || j.client == nil {
		return "", nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	token := uuid.NewString()
	if err := j.client.Set(ctx, undoKey(token), raw, j.ttl).Err(); err != nil {
		return "", fmt.Errorf("billing: record undo: %w", err)
	}
	return token, nil
}

// Peek returns the split recorded under token without consuming it.
func (j *UndoJournal) Peek(ctx context.Context, token string) (schedule.SplitResult, error) {
	return j.load(ctx, token, func(ctx context.Context, key string) *redis.StringCmd {
		return j.client.Get(ctx, key)
	})
}

// Take returns and forgets the split recorded under token.
func (j *UndoJournal) Take(ctx context.Context, token string) (schedule.SplitResult, error) {
	return j.load(ctx, token, func(ctx context.Context, key string) *redis.StringCmd {
		return j.client.GetDel(ctx, key)
	})
}

func (j *UndoJournal) load(ctx context.Context, token string, get func(context.Context, string) *redis.StringCmd) (schedule.SplitResult, error) {
	if j == nil || j.client == nil || token == "" {
		return schedule.SplitResult{}, ErrUndoUnavailable
	}
	raw, err := get(ctx, undoKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return schedule.SplitResult{}, ErrUndoUnavailable
	}
	if err != nil {
		return schedule.SplitResult{}, fmt.Errorf("billing: load undo: %w", err)
	}
	var res schedule.SplitResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return schedule.SplitResult{}, fmt.Errorf("billing: decode undo: %w", err)
	}
	return res, nil
}
