package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-events-api/internal/models"
	"github.com/noah-isme/campus-events-api/internal/repository"
	appErrors "github.com/noah-isme/campus-events-api/pkg/errors"
	"github.com/noah-isme/campus-events-api/pkg/response"
)

// RegistrationsService is the service surface the handler depends on.
type RegistrationsService interface {
	Register(ctx context.Context, eventID, studentID string) (*models.Registration, error)
	Cancel(ctx context.Context, eventID, studentID, reason, details string) (*repository.CancelOutcome, error)
	ListMine(ctx context.Context, studentID string) ([]models.RegistrationDetail, error)
}

// RegistrationHandler exposes registration and cancellation endpoints.
type RegistrationHandler struct {
	registrations RegistrationsService
}

// NewRegistrationHandler constructs handler.
func NewRegistrationHandler(registrations RegistrationsService) *RegistrationHandler {
	return &RegistrationHandler{registrations: registrations}
}

// CancelRequest carries the student's cancellation reason.
type CancelRequest struct {
	Reason  string `json:"reason"`
	Details string `json:"details"`
}

// Register godoc
// @Summary Register for an event
// @Description Claims a seat when one is available, otherwise joins the waitlist.
// @Tags Registrations
// @Produce json
// @Param id path string true "Event ID"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope "Re-registration cooldown active"
// @Failure 409 {object} response.Envelope "Already registered or schedule conflict"
// @Router /events/{id}/register [post]
func (h *RegistrationHandler) Register(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	reg, err := h.registrations.Register(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	message := "registration confirmed"
	if reg.Status == models.StatusWaitlisted {
		message = "event full, added to waitlist"
	}
	response.Created(c, message, reg)
}

// Cancel godoc
// @Summary Cancel a registration
// @Description Cancels the caller's registration; a freed seat goes to the waitlist head.
// @Tags Registrations
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param payload body CancelRequest false "Cancellation reason"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope "Already cancelled"
// @Failure 404 {object} response.Envelope
// @Router /events/{id}/register [delete]
func (h *RegistrationHandler) Cancel(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req CancelRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	outcome, err := h.registrations.Cancel(c.Request.Context(), c.Param("id"), claims.UserID, req.Reason, req.Details)
	if err != nil {
		response.Error(c, err)
		return
	}
	data := gin.H{
		"registration":    outcome.Cancelled,
		"seats_available": outcome.SeatsAvailable,
	}
	if outcome.Promoted != nil {
		data["promoted_registration_id"] = outcome.Promoted.ID
	}
	response.JSON(c, http.StatusOK, data, nil)
}

// ListMine godoc
// @Summary List the caller's registrations
// @Tags Registrations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /registrations/me [get]
func (h *RegistrationHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	details, err := h.registrations.ListMine(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, details, nil)
}
