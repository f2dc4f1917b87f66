package sender

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/logger"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/smtp"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetUser(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Connect(ctx context.Context) (smtp.Client, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(smtp.Client), args.Error(1)
}

func (m *MockTransport) From() string {
	args := m.Called()
	return args.String(0)
}

type MockSMTPClient struct {
	mock.Mock
}

func (m *MockSMTPClient) Mail(from string) error {
	return m.Called(from).Error(0)
}

func (m *MockSMTPClient) Rcpt(to string) error {
	return m.Called(to).Error(0)
}

func (m *MockSMTPClient) Data() (io.WriteCloser, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.WriteCloser), args.Error(1)
}

func (m *MockSMTPClient) Close() error {
	return m.Called().Error(0)
}

func (m *MockSMTPClient) Quit() error {
	return m.Called().Error(0)
}

// bufWriter запоминает тело письма.
type bufWriter struct {
	data   []byte
	closed bool
}

func (w *bufWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *bufWriter) Close() error {
	w.closed = true
	return nil
}

func expectDelivery(t *MockTransport, to string) (*MockSMTPClient, *bufWriter) {
	client := new(MockSMTPClient)
	w := &bufWriter{}
	t.On("From").Return("sender@example.com")
	t.On("Connect", mock.Anything).Return(client, nil).Once()
	client.On("Mail", "sender@example.com").Return(nil).Once()
	client.On("Rcpt", to).Return(nil).Once()
	client.On("Data").Return(w, nil).Once()
	client.On("Quit").Return(nil).Once()
	client.On("Close").Return(nil).Once()
	return client, w
}

const provisioned = `{"type":"provisioned","user_id":5,"access_url":"ss://k1","plan":0,"expires_at":"2036-01-01T00:00:00Z"}`

func TestHandleEvent_LooksUpEmail(t *testing.T) {
	repo := new(MockRepository)
	transport := new(MockTransport)
	repo.On("GetUser", mock.Anything, int64(5)).Return(&models.User{ID: 5, Email: "user@example.com"}, nil).Once()
	client, w := expectDelivery(transport, "user@example.com")

	svc := NewService(repo, logger.Discard(), transport)
	require.NoError(t, svc.HandleEvent(context.Background(), []byte(provisioned)))

	assert.True(t, w.closed)
	body := string(w.data)
	assert.Contains(t, body, "To: user@example.com")
	assert.Contains(t, body, "ss://k1")
	assert.Contains(t, body, "01.01.2036")
	repo.AssertExpectations(t)
	transport.AssertExpectations(t)
	client.AssertExpectations(t)
}

func TestHandleEvent_UsesEmailFromEvent(t *testing.T) {
	repo := new(MockRepository)
	transport := new(MockTransport)
	_, w := expectDelivery(transport, "gone@example.com")

	body := []byte(`{"type":"purged","user_id":9,"email":"gone@example.com","occurred_at":"2026-03-01T00:00:00Z"}`)
	svc := NewService(repo, logger.Discard(), transport)
	require.NoError(t, svc.HandleEvent(context.Background(), body))

	assert.Contains(t, string(w.data), "Subject: Учётная запись удалена")
	repo.AssertNotCalled(t, "GetUser", mock.Anything, mock.Anything)
}

func TestHandleEvent_Dropped(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		setup func(r *MockRepository)
	}{
		{name: "invalid JSON", body: `invalid json`, setup: func(*MockRepository) {}},
		{
			name: "user deleted",
			body: provisioned,
			setup: func(r *MockRepository) {
				r.On("GetUser", mock.Anything, int64(5)).Return(nil, errs.ErrNotFound).Once()
			},
		},
		{
			name: "unknown event",
			body: `{"type":"paid","user_id":5,"email":"a@b.c","expires_at":"2036-01-01T00:00:00Z"}`,
			setup: func(*MockRepository) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			transport := new(MockTransport)
			tt.setup(repo)

			svc := NewService(repo, logger.Discard(), transport)
			assert.NoError(t, svc.HandleEvent(context.Background(), []byte(tt.body)))
			transport.AssertNotCalled(t, "Connect", mock.Anything)
			repo.AssertExpectations(t)
		})
	}
}

func TestHandleEvent_RequeuesOnFailure(t *testing.T) {
	t.Run("SMTP connection error", func(t *testing.T) {
		repo := new(MockRepository)
		transport := new(MockTransport)
		repo.On("GetUser", mock.Anything, int64(5)).Return(&models.User{Email: "user@example.com"}, nil)
		transport.On("From").Return("sender@example.com")
		transport.On("Connect", mock.Anything).Return(nil, errors.New("connection error")).Once()

		svc := NewService(repo, logger.Discard(), transport)
		err := svc.HandleEvent(context.Background(), []byte(provisioned))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection error")
	})

	t.Run("store error", func(t *testing.T) {
		repo := new(MockRepository)
		transport := new(MockTransport)
		repo.On("GetUser", mock.Anything, int64(5)).Return(nil, errors.New("db down"))

		svc := NewService(repo, logger.Discard(), transport)
		assert.Error(t, svc.HandleEvent(context.Background(), []byte(provisioned)))
		transport.AssertNotCalled(t, "Connect", mock.Anything)
	})

	t.Run("recipient rejected", func(t *testing.T) {
		repo := new(MockRepository)
		transport := new(MockTransport)
		client := new(MockSMTPClient)
		transport.On("From").Return("sender@example.com")
		transport.On("Connect", mock.Anything).Return(client, nil).Once()
		client.On("Mail", "sender@example.com").Return(nil).Once()
		client.On("Rcpt", "a@b.c").Return(errors.New("550 no such user")).Once()
		client.On("Close").Return(nil).Once()

		body := []byte(`{"type":"renewed","user_id":5,"email":"a@b.c","expires_at":"2036-01-01T00:00:00Z"}`)
		svc := NewService(repo, logger.Discard(), transport)
		assert.Error(t, svc.HandleEvent(context.Background(), body))
		client.AssertExpectations(t)
	})
}

func TestCompose_AllEvents(t *testing.T) {
	for _, typ := range []models.EventType{
		models.EventProvisioned, models.EventUpgraded, models.EventRenewed,
		models.EventRepaired, models.EventDegraded, models.EventPurged,
	} {
		subject, body, ok := compose(models.Event{Type: typ, AccessURL: "ss://x", ExpiresAt: time.Now()})
		assert.True(t, ok, typ)
		assert.NotEmpty(t, subject, typ)
		assert.NotEmpty(t, body, typ)
	}
}
