package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Send(ctx context.Context, to, password string) error {
	args := m.Called(ctx, to, password)
	return args.Error(0)
}

func TestDispatcher_DeliversQueuedMessages(t *testing.T) {
	logger, _ := test.NewNullLogger()
	n := &mockNotifier{}

	var wg sync.WaitGroup
	wg.Add(2)
	n.On("Send", mock.Anything, "a@b.com", "pw1").Return(nil).Run(func(mock.Arguments) { wg.Done() }).Once()
	n.On("Send", mock.Anything, "c@d.com", "pw2").Return(errors.New("smtp down")).Run(func(mock.Arguments) { wg.Done() }).Once()

	d := NewDispatcher(DispatcherConfig{Workers: 2, QueueSize: 4, Logger: logger}, n)
	d.Start(context.Background())

	require.NoError(t, d.Enqueue(Message{To: "a@b.com", Password: "pw1"}))
	require.NoError(t, d.Enqueue(Message{To: "c@d.com", Password: "pw2"}))

	wg.Wait()
	d.Shutdown()
	n.AssertExpectations(t)
}

func TestDispatcher_ShutdownDrainsQueue(t *testing.T) {
	logger, _ := test.NewNullLogger()
	n := &mockNotifier{}
	n.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil).Times(3)

	d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 8, Logger: logger}, n)
	d.Start(context.Background())
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Enqueue(Message{To: "x@y.com", Password: "p"}))
	}
	d.Shutdown()

	n.AssertNumberOfCalls(t, "Send", 3)
	assert.ErrorIs(t, d.Enqueue(Message{To: "x@y.com"}), ErrNotRunning)
}

func TestDispatcher_NotStarted(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, &mockNotifier{})
	assert.ErrorIs(t, d.Enqueue(Message{To: "x@y.com"}), ErrNotRunning)
	d.Shutdown()
}

func TestDispatcher_QueueFull(t *testing.T) {
	logger, _ := test.NewNullLogger()
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	n := &mockNotifier{}
	n.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 1, Logger: logger}, n)
	d.Start(context.Background())

	require.NoError(t, d.Enqueue(Message{To: "1@y.com"}))
	<-started
	require.NoError(t, d.Enqueue(Message{To: "2@y.com"}))
	assert.ErrorIs(t, d.Enqueue(Message{To: "3@y.com"}), ErrQueueFull)

	close(release)
	d.Shutdown()
}

func TestLogNotifier(t *testing.T) {
	logger, hook := test.NewNullLogger()
	require.NoError(t, LogNotifier{Logger: logger}.Send(context.Background(), "a@b.com", "secret99"))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "a@b.com", entry.Data["to"])
	assert.NotContains(t, entry.Message, "secret99")
}

func TestNewSMTPNotifier(t *testing.T) {
	_, err := NewSMTPNotifier(SMTPConfig{})
	assert.Error(t, err)

	_, err = NewSMTPNotifier(SMTPConfig{Host: "smtp.example.com"})
	assert.Error(t, err)

	n, err := NewSMTPNotifier(SMTPConfig{Host: "smtp.example.com", Username: "bot@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 465, n.cfg.Port)
	assert.Equal(t, "bot@example.com", n.cfg.From)
	assert.Equal(t, 15*time.Second, n.cfg.Timeout)
}

func TestResetMessage(t *testing.T) {
	msg := string(resetMessage("bot@example.com", "a@b.com", "Xy12ab34cd"))
	assert.True(t, strings.HasPrefix(msg, "From: bot@example.com\r\n"))
	assert.Contains(t, msg, "To: a@b.com\r\n")
	assert.Contains(t, msg, "Xy12ab34cd")
}
