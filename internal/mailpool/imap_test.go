package mailpool

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sujalsin/enterprisebridge/internal/coreerrors"
	"github.com/sujalsin/enterprisebridge/internal/models"
	"github.com/sujalsin/enterprisebridge/internal/sessionstore"
	"github.com/sujalsin/enterprisebridge/internal/testutil"
)

// stubResolver resolves every inbox id to the same fixed upstream, matching
// the single in-memory test server's credentials.
type stubResolver struct {
	host string
	port int
	user string
	pass string
}

func (r stubResolver) Resolve(string) (models.Credentials, error) {
	return models.Credentials{
		Host:     r.host,
		Port:     r.port,
		User:     r.user,
		Secret:   r.pass,
		AuthKind: models.AuthPassword,
	}, nil
}

func newTestIMAPPool(t *testing.T) (*IMAPPool, *testutil.TestIMAPServer) {
	t.Helper()
	srv := testutil.NewTestIMAPServer(t)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Address)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	resolver := stubResolver{host: host, port: port, user: "username", pass: "password"}
	store := sessionstore.NewMemoryStore()
	pool := NewIMAPPool(resolver, store, time.Minute, 8, zerolog.Nop(), WithPlainDialIMAP())
	return pool, srv
}

func TestIMAPPoolCheckoutBuildsAndReturnsHandle(t *testing.T) {
	pool, _ := newTestIMAPPool(t)
	ctx := context.Background()

	h, err := pool.Checkout(ctx, "user@example.com")
	require.NoError(t, err)
	require.NotNil(t, h.Client())
	pool.Checkin(h, OutcomeOK)
}

func TestIMAPPoolColdThenWarmStats(t *testing.T) {
	pool, _ := newTestIMAPPool(t)
	ctx := context.Background()
	inboxID := "user@example.com"

	h1, err := pool.Checkout(ctx, inboxID)
	require.NoError(t, err)
	pool.Checkin(h1, OutcomeOK)

	for i := 0; i < 3; i++ {
		h, err := pool.Checkout(ctx, inboxID)
		require.NoError(t, err)
		pool.Checkin(h, OutcomeOK)
	}

	hash := h1.inboxIDHash
	rec, err := pool.store.Get(ctx, models.ProtocolIMAP, hash)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Stats.Misses)
	assert.Equal(t, int64(3), rec.Stats.Hits)
}

func TestIMAPPoolPerIDExclusivitySerializesCheckouts(t *testing.T) {
	pool, _ := newTestIMAPPool(t)
	ctx := context.Background()
	inboxID := "user@example.com"

	var (
		mu      sync.Mutex
		counter int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := pool.Checkout(ctx, inboxID)
			if err != nil {
				return
			}
			mu.Lock()
			counter++
			if counter > maxSeen {
				maxSeen = counter
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			counter--
			mu.Unlock()
			pool.Checkin(h, OutcomeOK)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen, "no two checkouts for the same id should overlap")
}

func TestIMAPPoolDifferentIDsProceedInParallel(t *testing.T) {
	pool, _ := newTestIMAPPool(t)
	ctx := context.Background()

	h1, err := pool.Checkout(ctx, "a@example.com")
	require.NoError(t, err)
	h2, err := pool.Checkout(ctx, "b@example.com")
	require.NoError(t, err)

	pool.Checkin(h1, OutcomeOK)
	pool.Checkin(h2, OutcomeOK)
}

func TestIMAPPoolCheckinFailedClosesHandle(t *testing.T) {
	pool, _ := newTestIMAPPool(t)
	ctx := context.Background()
	inboxID := "user@example.com"

	h, err := pool.Checkout(ctx, inboxID)
	require.NoError(t, err)
	pool.Checkin(h, OutcomeFailed)

	slot := pool.slotFor(inboxID)
	assert.Nil(t, slot.handle, "a failed checkin must drop the handle so the next checkout rebuilds")
}

func TestIMAPPoolUnresolvableInboxSurfacesUpstreamUnavailable(t *testing.T) {
	store := sessionstore.NewMemoryStore()
	pool := NewIMAPPool(errorResolver{}, store, time.Minute, 8, zerolog.Nop(), WithPlainDialIMAP())

	_, err := pool.Checkout(context.Background(), "ghost@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, coreerrors.ErrUpstreamUnavailable)
}

type errorResolver struct{}

func (errorResolver) Resolve(string) (models.Credentials, error) {
	return models.Credentials{}, coreerrors.ErrNotFound
}
