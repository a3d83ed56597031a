package token

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *redisstore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	backend := redisstore.New(rdb, redisstore.Options{Prefix: "test"})
	return NewManager(backend, nil), backend
}

func TestIssueValidateConsume(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	tok, err := m.Issue(ctx, IssueRequest{UserID: "u1", Email: "A@x.com", Type: TypeInvite, TTL: time.Hour})
	require.NoError(t, err)
	require.Len(t, tok, 43)

	for i := 0; i < 3; i++ {
		res, err := m.Validate(ctx, tok, "u1", TypeInvite)
		require.NoError(t, err)
		require.Equal(t, Result{OK: true, Status: Valid}, res)
	}

	res, err := m.Consume(ctx, tok, "u1", TypeInvite)
	require.NoError(t, err)
	require.Equal(t, Result{OK: true, Status: Valid}, res)

	res, err = m.Consume(ctx, tok, "u1", TypeInvite)
	require.NoError(t, err)
	require.Equal(t, NotFound, res.Status)
	require.False(t, res.OK)
}

func TestKeysMustAllMatch(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	tok, err := m.Issue(ctx, IssueRequest{UserID: "u1", Type: TypePasswordReset, TTL: time.Hour})
	require.NoError(t, err)

	res, err := m.Consume(ctx, tok, "u2", TypePasswordReset)
	require.NoError(t, err)
	require.Equal(t, NotFound, res.Status)
	res, err = m.Consume(ctx, tok, "u1", TypeInvite)
	require.NoError(t, err)
	require.Equal(t, NotFound, res.Status)

	res, err = m.Validate(ctx, tok, "u1", TypePasswordReset)
	require.NoError(t, err)
	require.True(t, res.OK)
}

func TestZeroTTLIsExpiredButConsumed(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()

	tok, err := m.Issue(ctx, IssueRequest{UserID: "u1", Email: "a@x.com", Type: TypePasswordReset})
	require.NoError(t, err)

	res, err := m.Validate(ctx, tok, "u1", TypePasswordReset)
	require.NoError(t, err)
	require.Equal(t, Result{OK: false, Status: Expired}, res)

	res, err = m.Consume(ctx, tok, "u1", TypePasswordReset)
	require.NoError(t, err)
	require.Equal(t, Expired, res.Status)

	_, err = backend.GetToken(ctx, tok, "u1", TypePasswordReset)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentConsumeSucceedsOnce(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	tok, err := m.Issue(ctx, IssueRequest{UserID: "u1", Type: TypeInvite, TTL: time.Hour})
	require.NoError(t, err)

	const n = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[Status]int{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.Consume(ctx, tok, "u1", TypeInvite)
			if err != nil {
				t.Errorf("Consume: %v", err)
				return
			}
			mu.Lock()
			statuses[res.Status]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, statuses[Valid])
	require.Equal(t, n-1, statuses[NotFound])
}

func TestIssueRejectsBadRequest(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Issue(context.Background(), IssueRequest{UserID: "u1"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = m.Issue(context.Background(), IssueRequest{UserID: "u1", Type: TypeInvite, TTL: -time.Second})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDeleteExpiredListAndDeleteForUser(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Issue(ctx, IssueRequest{UserID: "u1", Email: "a@x.com", Type: TypeInvite})
	require.NoError(t, err)
	_, err = m.Issue(ctx, IssueRequest{UserID: "u1", Email: "a@x.com", Type: TypePasswordReset, TTL: time.Hour})
	require.NoError(t, err)
	_, err = m.Issue(ctx, IssueRequest{UserID: "u2", Email: "b@x.com", Type: TypeInvite, TTL: time.Hour})
	require.NoError(t, err)

	n, err := m.DeleteExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	all, err := m.List(ctx, store.TokenFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	invites, err := m.List(ctx, store.TokenFilter{Type: TypeInvite})
	require.NoError(t, err)
	require.Len(t, invites, 1)
	require.Equal(t, "u2", invites[0].UserID)

	n, err = m.DeleteForUser(ctx, "u1")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

type brokenTokens struct{ store.TokenStore }

func (brokenTokens) ConsumeToken(context.Context, string, string, string) (*store.Token, error) {
	return nil, store.Backend("consume token", errors.New("timeout"))
}

func TestConsumeSurfacesBackendFailure(t *testing.T) {
	m := NewManager(brokenTokens{}, nil)
	res, err := m.Consume(context.Background(), "t", "u", TypeInvite)
	require.ErrorIs(t, err, store.ErrBackend)
	require.False(t, res.OK)
}

func TestResultJSON(t *testing.T) {
	data, err := json.Marshal(Result{OK: false, Status: Expired})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":false,"status":"expired"}`, string(data))
}
