package login

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/logger"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
	"github.com/magabrotheeeer/vpn-provisioner/internal/services/auth"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Login(ctx context.Context, email, password string) (*auth.Session, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Session), args.Error(1)
}

func TestLoginHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setup          func(m *ServiceMock)
		wantStatusCode int
		wantToken      string
	}{
		{
			name: "successful login",
			body: `{"email":"a@example.com","password":"secret"}`,
			setup: func(m *ServiceMock) {
				m.On("Login", mock.Anything, "a@example.com", "secret").Return(&auth.Session{
					Token:        "jwt",
					Subscription: &models.Result{AccessURL: "ss://k1"},
				}, nil).Once()
			},
			wantStatusCode: http.StatusOK,
			wantToken:      "jwt",
		},
		{
			name: "wrong password",
			body: `{"email":"a@example.com","password":"nope"}`,
			setup: func(m *ServiceMock) {
				m.On("Login", mock.Anything, "a@example.com", "nope").Return(nil, errs.ErrInvalidCredentials).Once()
			},
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "broken body",
			body:           `{"email":`,
			setup:          func(*ServiceMock) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "missing password",
			body:           `{"email":"a@example.com"}`,
			setup:          func(*ServiceMock) {},
			wantStatusCode: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			tt.setup(svc)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/login", bytes.NewBufferString(tt.body))
			New(logger.Discard(), svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatusCode, rec.Code)
			var got map[string]any
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			if tt.wantToken != "" {
				data := got["data"].(map[string]any)
				assert.Equal(t, tt.wantToken, data["token"])
			} else {
				assert.Equal(t, "Error", got["status"])
			}
			svc.AssertExpectations(t)
		})
	}
}
