package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-events-api/internal/middleware"
	"github.com/noah-isme/campus-events-api/internal/models"
	"github.com/noah-isme/campus-events-api/internal/service"
	appErrors "github.com/noah-isme/campus-events-api/pkg/errors"
)

type eventsServiceMock struct {
	createResp *models.Event
	createErr  error
	listResp   []models.Event
	getResp    *service.EventDetail
	getErr     error
	updateResp *models.Event
	updateErr  error
	deleteResp int
	deleteErr  error
	rosterResp []models.RegistrationDetail
	exportResp *service.ExportFile
	lastFilter models.EventFilter
	lastFormat service.ExportFormat
}

func (m *eventsServiceMock) Create(ctx context.Context, organizerID string, input service.CreateEventInput) (*models.Event, error) {
	return m.createResp, m.createErr
}

func (m *eventsServiceMock) List(ctx context.Context, filter models.EventFilter) ([]models.Event, *models.Pagination, error) {
	m.lastFilter = filter
	return m.listResp, &models.Pagination{Page: 1, PageSize: 20, TotalCount: len(m.listResp)}, nil
}

func (m *eventsServiceMock) Get(ctx context.Context, id string) (*service.EventDetail, error) {
	return m.getResp, m.getErr
}

func (m *eventsServiceMock) Update(ctx context.Context, actorID string, actorRole models.UserRole, id string, input service.UpdateEventInput) (*models.Event, error) {
	return m.updateResp, m.updateErr
}

func (m *eventsServiceMock) Delete(ctx context.Context, actorID string, actorRole models.UserRole, id string) (int, error) {
	return m.deleteResp, m.deleteErr
}

func (m *eventsServiceMock) Roster(ctx context.Context, actorID string, actorRole models.UserRole, eventID string) ([]models.RegistrationDetail, error) {
	return m.rosterResp, nil
}

func (m *eventsServiceMock) Export(ctx context.Context, actorID string, actorRole models.UserRole, eventID string, format service.ExportFormat) (*service.ExportFile, error) {
	m.lastFormat = format
	return m.exportResp, nil
}

func organizerContext(t *testing.T, method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
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
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "org-1", Role: models.RoleOrganizer})
	return c, w
}

func TestEventHandlerListParsesFilter(t *testing.T) {
	mockSvc := &eventsServiceMock{listResp: []models.Event{{ID: "evt-1"}}}
	handler := NewEventHandler(mockSvc)

	c, w := organizerContext(t, http.MethodGet, "/events?category=Sports&search=cup&page=2&page_size=10", nil)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.CategorySports, mockSvc.lastFilter.Category)
	assert.Equal(t, "cup", mockSvc.lastFilter.Search)
	assert.Equal(t, 2, mockSvc.lastFilter.Page)
	assert.Equal(t, 10, mockSvc.lastFilter.PageSize)
}

func TestEventHandlerGetNotFound(t *testing.T) {
	mockSvc := &eventsServiceMock{getErr: appErrors.ErrNotFound}
	handler := NewEventHandler(mockSvc)

	c, w := organizerContext(t, http.MethodGet, "/events/evt-x", nil)
	c.Params = gin.Params{{Key: "id", Value: "evt-x"}}

	handler.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventHandlerCreate(t *testing.T) {
	mockSvc := &eventsServiceMock{createResp: &models.Event{ID: "evt-1"}}
	handler := NewEventHandler(mockSvc)

	start := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	body, _ := json.Marshal(service.CreateEventInput{
		Title:       "Cultural Fest",
		Description: "Annual fest",
		Category:    models.CategoryCultural,
		Venue:       "Auditorium",
		StartTime:   start,
		EndTime:     start.Add(6 * time.Hour),
		Capacity:    200,
	})
	c, w := organizerContext(t, http.MethodPost, "/events", body)

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestEventHandlerCreateInvalidBody(t *testing.T) {
	handler := NewEventHandler(&eventsServiceMock{})

	c, w := organizerContext(t, http.MethodPost, "/events", []byte(`{"title":`))

	handler.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventHandlerUpdateInvalidCapacity(t *testing.T) {
	mockSvc := &eventsServiceMock{updateErr: appErrors.ErrInvalidCapacity}
	handler := NewEventHandler(mockSvc)

	start := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	body, _ := json.Marshal(service.UpdateEventInput{
		Title:       "Cultural Fest",
		Description: "Annual fest",
		Category:    models.CategoryCultural,
		Venue:       "Auditorium",
		StartTime:   start,
		EndTime:     start.Add(6 * time.Hour),
		Capacity:    1,
	})
	c, w := organizerContext(t, http.MethodPut, "/events/evt-1", body)
	c.Params = gin.Params{{Key: "id", Value: "evt-1"}}

	handler.Update(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventHandlerDelete(t *testing.T) {
	mockSvc := &eventsServiceMock{deleteResp: 4}
	handler := NewEventHandler(mockSvc)

	c, w := organizerContext(t, http.MethodDelete, "/events/evt-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "evt-1"}}

	handler.Delete(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"registrations_removed":4`)
}

func TestEventHandlerExportDefaultsToCSV(t *testing.T) {
	mockSvc := &eventsServiceMock{exportResp: &service.ExportFile{
		Content:     []byte("Name,Email\n"),
		ContentType: "text/csv",
		Filename:    "fest-attendees.csv",
	}}
	handler := NewEventHandler(mockSvc)

	c, w := organizerContext(t, http.MethodGet, "/events/evt-1/registrations/export", nil)
	c.Params = gin.Params{{Key: "id", Value: "evt-1"}}

	handler.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.ExportCSV, mockSvc.lastFormat)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "fest-attendees.csv")
}
