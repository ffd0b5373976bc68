package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-events-api/internal/middleware"
	"github.com/noah-isme/campus-events-api/internal/models"
	"github.com/noah-isme/campus-events-api/internal/repository"
	appErrors "github.com/noah-isme/campus-events-api/pkg/errors"
	"github.com/noah-isme/campus-events-api/pkg/response"
)

type registrationsServiceMock struct {
	registerResp *models.Registration
	registerErr  error
	cancelResp   *repository.CancelOutcome
	cancelErr    error
	listResp     []models.RegistrationDetail
	listErr      error
	lastEventID  string
	lastReason   string
}

func (m *registrationsServiceMock) Register(ctx context.Context, eventID, studentID string) (*models.Registration, error) {
	m.lastEventID = eventID
	return m.registerResp, m.registerErr
}

func (m *registrationsServiceMock) Cancel(ctx context.Context, eventID, studentID, reason, details string) (*repository.CancelOutcome, error) {
	m.lastEventID = eventID
	m.lastReason = reason
	return m.cancelResp, m.cancelErr
}

func (m *registrationsServiceMock) ListMine(ctx context.Context, studentID string) ([]models.RegistrationDetail, error) {
	return m.listResp, m.listErr
}

func studentContext(t *testing.T, method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body != nil {
		req, _ = http.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, target, nil)
	}
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})
	return c, w
}

func TestRegistrationHandlerRegisterConfirmed(t *testing.T) {
	mockSvc := &registrationsServiceMock{
		registerResp: &models.Registration{ID: "reg-1", Status: models.StatusRegistered},
	}
	handler := NewRegistrationHandler(mockSvc)

	c, w := studentContext(t, http.MethodPost, "/events/evt-1/register", nil)
	c.Params = gin.Params{{Key: "id", Value: "evt-1"}}

	handler.Register(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "evt-1", mockSvc.lastEventID)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "registration confirmed", envelope.Message)
}

func TestRegistrationHandlerRegisterWaitlisted(t *testing.T) {
	mockSvc := &registrationsServiceMock{
		registerResp: &models.Registration{ID: "reg-1", Status: models.StatusWaitlisted},
	}
	handler := NewRegistrationHandler(mockSvc)

	c, w := studentContext(t, http.MethodPost, "/events/evt-1/register", nil)
	c.Params = gin.Params{{Key: "id", Value: "evt-1"}}

	handler.Register(c)
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "event full, added to waitlist", envelope.Message)
}

func TestRegistrationHandlerRegisterCooldown(t *testing.T) {
	mockSvc := &registrationsServiceMock{
		registerErr: appErrors.WithDetails(appErrors.ErrCooldownActive, map[string]interface{}{
			"retry_after_minutes": 12,
		}),
	}
	handler := NewRegistrationHandler(mockSvc)

	c, w := studentContext(t, http.MethodPost, "/events/evt-1/register", nil)
	c.Params = gin.Params{{Key: "id", Value: "evt-1"}}

	handler.Register(c)
	require.Equal(t, http.StatusForbidden, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "COOLDOWN_ACTIVE", envelope.Error.Code)
	assert.EqualValues(t, 12, envelope.Error.Details["retry_after_minutes"])
}

func TestRegistrationHandlerRegisterScheduleConflict(t *testing.T) {
	mockSvc := &registrationsServiceMock{registerErr: appErrors.ErrScheduleConflict}
	handler := NewRegistrationHandler(mockSvc)

	c, w := studentContext(t, http.MethodPost, "/events/evt-1/register", nil)
	c.Params = gin.Params{{Key: "id", Value: "evt-1"}}

	handler.Register(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestRegistrationHandlerRegisterUnauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRegistrationHandler(&registrationsServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodPost, "/events/evt-1/register", nil)

	handler.Register(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegistrationHandlerCancelWithReason(t *testing.T) {
	mockSvc := &registrationsServiceMock{
		cancelResp: &repository.CancelOutcome{
			Cancelled:      &models.Registration{ID: "reg-1", Status: models.StatusCancelled},
			Promoted:       &models.Registration{ID: "reg-2", Status: models.StatusRegistered},
			SeatsAvailable: 0,
		},
	}
	handler := NewRegistrationHandler(mockSvc)

	body, _ := json.Marshal(CancelRequest{Reason: "Change of Plans"})
	c, w := studentContext(t, http.MethodDelete, "/events/evt-1/register", body)
	c.Params = gin.Params{{Key: "id", Value: "evt-1"}}

	handler.Cancel(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Change of Plans", mockSvc.lastReason)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	data := envelope.Data.(map[string]interface{})
	assert.Equal(t, "reg-2", data["promoted_registration_id"])
}

func TestRegistrationHandlerCancelAlreadyCancelled(t *testing.T) {
	mockSvc := &registrationsServiceMock{cancelErr: appErrors.ErrAlreadyCancelled}
	handler := NewRegistrationHandler(mockSvc)

	c, w := studentContext(t, http.MethodDelete, "/events/evt-1/register", nil)
	c.Params = gin.Params{{Key: "id", Value: "evt-1"}}

	handler.Cancel(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegistrationHandlerListMine(t *testing.T) {
	mockSvc := &registrationsServiceMock{
		listResp: []models.RegistrationDetail{{EventTitle: "Hackathon"}},
	}
	handler := NewRegistrationHandler(mockSvc)

	c, w := studentContext(t, http.MethodGet, "/registrations/me", nil)

	handler.ListMine(c)
	require.Equal(t, http.StatusOK, w.Code)
}
