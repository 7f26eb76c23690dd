package mailpool

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sujalsin/enterprisebridge/internal/models"
	"github.com/sujalsin/enterprisebridge/internal/sessionstore"
	"github.com/sujalsin/enterprisebridge/internal/testutil"
)

func newTestSMTPPool(t *testing.T) (*SMTPPool, *testutil.TestSMTPServer) {
	t.Helper()
	srv := testutil.NewTestSMTPServer(t)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Address)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	resolver := stubResolver{host: host, port: port, user: srv.Username(), pass: srv.Password()}
	store := sessionstore.NewMemoryStore()
	pool := NewSMTPPool(resolver, store, time.Minute, 8, zerolog.Nop(), WithPlainDialSMTP())
	return pool, srv
}

func TestSMTPPoolSendDeliversComposedMessage(t *testing.T) {
	pool, srv := newTestSMTPPool(t)
	ctx := context.Background()

	msgID, err := pool.Send(ctx, "sender@example.com", models.OutgoingMessage{
		To:      []string{"rcpt@example.com"},
		Subject: "hello",
		Body:    "hi there",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)

	messages := srv.GetMessages()
	require.Len(t, messages, 1)
	assert.Contains(t, string(messages[0].Data), "hi there")
	assert.Contains(t, string(messages[0].Data), "hello")
}

func TestSMTPPoolColdThenWarmStats(t *testing.T) {
	pool, _ := newTestSMTPPool(t)
	ctx := context.Background()
	inboxID := "sender@example.com"

	_, err := pool.Send(ctx, inboxID, models.OutgoingMessage{To: []string{"a@example.com"}, Subject: "s1", Body: "b1"})
	require.NoError(t, err)
	_, err = pool.Send(ctx, inboxID, models.OutgoingMessage{To: []string{"a@example.com"}, Subject: "s2", Body: "b2"})
	require.NoError(t, err)

	h, err := pool.Checkout(ctx, inboxID)
	require.NoError(t, err)
	defer pool.Checkin(h, OutcomeOK)

	rec, err := pool.store.Get(ctx, models.ProtocolSMTP, h.inboxIDHash)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Stats.Misses)
	assert.Equal(t, int64(2), rec.Stats.Hits)
}
