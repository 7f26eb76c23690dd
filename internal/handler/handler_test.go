package handler

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sujalsin/enterprisebridge/internal/mailpool"
	"github.com/sujalsin/enterprisebridge/internal/models"
	"github.com/sujalsin/enterprisebridge/internal/sessionstore"
	"github.com/sujalsin/enterprisebridge/internal/testutil"
	"github.com/sujalsin/enterprisebridge/internal/transform"
)

type fixedResolver struct {
	host string
	port int
	user string
	pass string
}

func (r fixedResolver) Resolve(string) (models.Credentials, error) {
	return models.Credentials{Host: r.host, Port: r.port, User: r.user, Secret: r.pass, AuthKind: models.AuthPassword}, nil
}

func newTestService(t *testing.T) (*Service, *testutil.TestIMAPServer, *testutil.TestSMTPServer, sessionstore.Store) {
	t.Helper()

	imapSrv := testutil.NewTestIMAPServer(t)
	t.Cleanup(imapSrv.Close)
	smtpSrv := testutil.NewTestSMTPServer(t)
	t.Cleanup(smtpSrv.Close)

	imapHost, imapPortStr, err := net.SplitHostPort(imapSrv.Address)
	require.NoError(t, err)
	imapPort, err := strconv.Atoi(imapPortStr)
	require.NoError(t, err)

	smtpHost, smtpPortStr, err := net.SplitHostPort(smtpSrv.Address)
	require.NoError(t, err)
	smtpPort, err := strconv.Atoi(smtpPortStr)
	require.NoError(t, err)

	store := sessionstore.NewMemoryStore()
	imapResolver := fixedResolver{host: imapHost, port: imapPort, user: imapSrv.Username(), pass: imapSrv.Password()}
	smtpResolver := fixedResolver{host: smtpHost, port: smtpPort, user: smtpSrv.Username(), pass: smtpSrv.Password()}

	imapPool := mailpool.NewIMAPPool(imapResolver, store, time.Minute, 8, zerolog.Nop(), mailpool.WithPlainDialIMAP())
	smtpPool := mailpool.NewSMTPPool(smtpResolver, store, time.Minute, 8, zerolog.Nop(), mailpool.WithPlainDialSMTP())
	transformer := transform.New(5000, 2000, nil, transform.NopExtractor{})

	svc := NewService(imapPool, smtpPool, store, transformer, zerolog.Nop())
	return svc, imapSrv, smtpSrv, store
}

func TestListMessagesReturnsTransformedMessages(t *testing.T) {
	svc, imapSrv, _, _ := newTestService(t)
	imapSrv.EnsureINBOX(t)
	imapSrv.AddMessage(t, "INBOX", "<m1@example.com>", "Hello", "alice@example.com", "bob@example.com", time.Now())

	result, err := svc.ListMessages(context.Background(), "bob@example.com", 10, "")
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "Hello", result.Messages[0].Subject)
}

func TestGetMessageFetchesSingleUID(t *testing.T) {
	svc, imapSrv, _, _ := newTestService(t)
	imapSrv.EnsureINBOX(t)
	uid := imapSrv.AddMessage(t, "INBOX", "<m2@example.com>", "Single", "alice@example.com", "bob@example.com", time.Now())

	msg, err := svc.GetMessage(context.Background(), "bob@example.com", uid)
	require.NoError(t, err)
	assert.Equal(t, "Single", msg.Subject)
}

func TestSendMessageDeliversAndReturnsID(t *testing.T) {
	svc, _, smtpSrv, _ := newTestService(t)

	msgID, err := svc.SendMessage(context.Background(), "sender@example.com", models.OutgoingMessage{
		To:      []string{"rcpt@example.com"},
		Subject: "ping",
		Body:    "pong",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)

	messages := smtpSrv.GetMessages()
	require.Len(t, messages, 1)
	assert.Contains(t, string(messages[0].Data), "pong")
}

func TestPoolStatsAggregatesAcrossProtocols(t *testing.T) {
	svc, imapSrv, _, _ := newTestService(t)
	imapSrv.EnsureINBOX(t)

	_, err := svc.ListMessages(context.Background(), "bob@example.com", 10, "")
	require.NoError(t, err)

	stats, err := svc.PoolStats(context.Background(), "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.LiveIMAP)
}

func TestPoolStatsGlobalWithEmptyInboxID(t *testing.T) {
	svc, imapSrv, _, _ := newTestService(t)
	imapSrv.EnsureINBOX(t)

	_, err := svc.ListMessages(context.Background(), "bob@example.com", 10, "")
	require.NoError(t, err)

	stats, err := svc.PoolStats(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Misses)
}
