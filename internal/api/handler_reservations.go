package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"inkediin-backend/internal/apperr"
	"inkediin-backend/internal/model"
	"inkediin-backend/internal/mw"
	"inkediin-backend/internal/store"
	"inkediin-backend/internal/workflow"
)

type createReservationRequest struct {
	ArtistID        string     `json:"artistId" binding:"required,notblank"`
	Type            model.Type `json:"type" binding:"required,oneof=flash custom"`
	FlashID         string     `json:"flashId"`
	ProjectTitle    string     `json:"projectTitle" binding:"max=200"`
	Description     string     `json:"description"`
	Style           string     `json:"style" binding:"max=64"`
	Size            string     `json:"size" binding:"max=64"`
	Placement       string     `json:"placement" binding:"max=64"`
	Budget          string     `json:"budget" binding:"max=64"`
	ReferenceImages []string   `json:"referenceImages" binding:"omitempty,max=10,dive,url"`
	PreferredDates  []string   `json:"preferredDates" binding:"omitempty,max=10"`
	Message         string     `json:"message"`
	ConversationID  string     `json:"conversationId"`
}

// CreateReservation handles a client's flash or custom request.
func (h *Handler) CreateReservation(c *gin.Context) {
	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	r, err := h.engine.Create(c.Request.Context(), mw.Identity(c), workflow.CreateInput{
		ArtistID:        req.ArtistID,
		Type:            req.Type,
		FlashID:         req.FlashID,
		ProjectTitle:    req.ProjectTitle,
		Description:     req.Description,
		Style:           req.Style,
		Size:            req.Size,
		Placement:       req.Placement,
		Budget:          req.Budget,
		ReferenceImages: req.ReferenceImages,
		PreferredDates:  req.PreferredDates,
		Message:         req.Message,
		ConversationID:  req.ConversationID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Location", "/api/reservations/"+r.ID)
	c.JSON(http.StatusCreated, r)
}

// ListMyReservations returns one page of the caller's reservations.
func (h *Handler) ListMyReservations(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	page, limit, err := parsePaging(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.engine.List(c.Request.Context(), mw.Identity(c), model.Role(c.Query("role")), filter, page, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":   result.Items,
		"page":    result.Page,
		"limit":   result.Limit,
		"total":   result.Total,
		"hasMore": result.HasMore(),
	})
}

// GetStats returns the caller's reservation count per status.
func (h *Handler) GetStats(c *gin.Context) {
	role := model.Role(c.Query("role"))
	if role != "" && role != model.RoleClient && role != model.RoleArtist {
		badRequest(c, fmt.Errorf("unknown role %q", role))
		return
	}

	counts, err := h.engine.Stats(c.Request.Context(), mw.Identity(c), role)
	if err != nil {
		writeError(c, err)
		return
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts, "total": total})
}

func (h *Handler) GetReservation(c *gin.Context) {
	r, err := h.engine.Get(c.Request.Context(), c.Param("id"), mw.Identity(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) GetHistory(c *gin.Context) {
	entries, err := h.engine.History(c.Request.Context(), c.Param("id"), mw.Identity(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}

type modifyReservationRequest struct {
	ProjectTitle     *string   `json:"projectTitle" binding:"omitempty,max=200"`
	Description      *string   `json:"description"`
	Style            *string   `json:"style" binding:"omitempty,max=64"`
	Size             *string   `json:"size" binding:"omitempty,max=64"`
	Placement        *string   `json:"placement" binding:"omitempty,max=64"`
	Budget           *string   `json:"budget" binding:"omitempty,max=64"`
	Message          *string   `json:"message"`
	ReferenceImages  *[]string `json:"referenceImages" binding:"omitempty,max=10,dive,url"`
	PreferredDates   *[]string `json:"preferredDates" binding:"omitempty,max=10"`
	Location         *string   `json:"location" binding:"omitempty,max=256"`
	DurationMinutes  *int      `json:"durationMinutes"`
	QuotedPriceCents *int64    `json:"quotedPriceCents"`
	ConversationID   *string   `json:"conversationId"`
	ExpectedVersion  *int64    `json:"expectedVersion"`
}

// ModifyReservation amends a live reservation.
func (h *Handler) ModifyReservation(c *gin.Context) {
	var req modifyReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	r, err := h.engine.Modify(c.Request.Context(), c.Param("id"), mw.Identity(c), workflow.Amendment{
		ProjectTitle:     req.ProjectTitle,
		Description:      req.Description,
		Style:            req.Style,
		Size:             req.Size,
		Placement:        req.Placement,
		Budget:           req.Budget,
		Message:          req.Message,
		ReferenceImages:  req.ReferenceImages,
		PreferredDates:   req.PreferredDates,
		Location:         req.Location,
		DurationMinutes:  req.DurationMinutes,
		QuotedPriceCents: req.QuotedPriceCents,
		ConversationID:   req.ConversationID,
	}, req.ExpectedVersion)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type respondRequest struct {
	Status           model.Status `json:"status" binding:"required,oneof=confirmed rejected"`
	Message          string       `json:"message"`
	Reason           string       `json:"reason"`
	AppointmentAt    string       `json:"appointmentAt"`
	AppointmentDate  string       `json:"appointmentDate"`
	AppointmentTime  string       `json:"appointmentTime"`
	DurationMinutes  *int         `json:"durationMinutes"`
	Location         *string      `json:"location" binding:"omitempty,max=256"`
	QuotedPriceCents *int64       `json:"quotedPriceCents"`
	ConversationID   *string      `json:"conversationId"`
	ExpectedVersion  *int64       `json:"expectedVersion"`
}

// RespondReservation lets the artist confirm or reject a pending request.
func (h *Handler) RespondReservation(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	appointment := req.AppointmentAt
	if appointment == "" {
		appointment = req.AppointmentDate
	}
	h.transition(c, req.Status, workflow.Payload{
		Message:          req.Message,
		Reason:           req.Reason,
		AppointmentAt:    appointment,
		AppointmentTime:  req.AppointmentTime,
		DurationMinutes:  req.DurationMinutes,
		Location:         req.Location,
		QuotedPriceCents: req.QuotedPriceCents,
		ConversationID:   req.ConversationID,
		ExpectedVersion:  req.ExpectedVersion,
	})
}

type cancelRequest struct {
	Reason          string `json:"reason" binding:"max=1000"`
	ExpectedVersion *int64 `json:"expectedVersion"`
}

// CancelReservation lets either party cancel a pending or confirmed reservation.
func (h *Handler) CancelReservation(c *gin.Context) {
	var req cancelRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.transition(c, model.StatusCancelled, workflow.Payload{
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	})
}

type completeRequest struct {
	ExpectedVersion *int64 `json:"expectedVersion"`
}

// CompleteReservation lets the artist close a confirmed reservation.
func (h *Handler) CompleteReservation(c *gin.Context) {
	var req completeRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.transition(c, model.StatusCompleted, workflow.Payload{ExpectedVersion: req.ExpectedVersion})
}

func (h *Handler) transition(c *gin.Context, to model.Status, payload workflow.Payload) {
	r, err := h.engine.ApplyTransition(c.Request.Context(), workflow.TransitionRequest{
		ReservationID: c.Param("id"),
		To:            to,
		Actor:         mw.Identity(c),
		Payload:       payload,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type appointmentRequest struct {
	AppointmentAt   string  `json:"appointmentAt"`
	AppointmentDate string  `json:"appointmentDate"`
	AppointmentTime string  `json:"appointmentTime"`
	DurationMinutes *int    `json:"durationMinutes"`
	Location        *string `json:"location" binding:"omitempty,max=256"`
	ExpectedVersion *int64  `json:"expectedVersion"`
}

// SetAppointment lets the artist schedule or move the appointment.
func (h *Handler) SetAppointment(c *gin.Context) {
	var req appointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	date := req.AppointmentAt
	if date == "" {
		date = req.AppointmentDate
	}
	r, err := h.engine.SetAppointment(c.Request.Context(), c.Param("id"), mw.Identity(c), workflow.AppointmentInput{
		Date:            date,
		Time:            req.AppointmentTime,
		DurationMinutes: req.DurationMinutes,
		Location:        req.Location,
	}, req.ExpectedVersion)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// DeleteReservation is the administrative removal of a reservation.
func (h *Handler) DeleteReservation(c *gin.Context) {
	if err := h.engine.Delete(c.Request.Context(), c.Param("id"), mw.Identity(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// bindOptionalJSON binds the body when there is one. It writes the error
// response and returns false on malformed input.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, err)
		return false
	}
	return true
}

func parseFilter(c *gin.Context) (store.Filter, error) {
	var f store.Filter
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			s := model.Status(strings.TrimSpace(part))
			if !s.Valid() {
				return f, fmt.Errorf("unknown status %q", part)
			}
			f.Statuses = append(f.Statuses, s)
		}
	}
	if raw := c.Query("type"); raw != "" {
		f.Type = model.Type(raw)
		if !f.Type.Valid() {
			return f, fmt.Errorf("unknown type %q", raw)
		}
	}
	var err error
	if f.From, err = parseBound(c.Query("from")); err != nil {
		return f, err
	}
	if f.To, err = parseBound(c.Query("to")); err != nil {
		return f, err
	}
	f.Search = c.Query("q")
	return f, nil
}

func parseBound(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, apperr.Validation("invalid date %q, expected RFC 3339 or YYYY-MM-DD", raw)
}

func parsePaging(c *gin.Context) (int, int, error) {
	page, limit := 1, store.DefaultPageSize
	var err error
	if raw := c.Query("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil || page < 1 {
			return 0, 0, fmt.Errorf("invalid page %q", raw)
		}
	}
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 || limit > store.MaxPageSize {
			return 0, 0, fmt.Errorf("invalid limit %q, expected 1..%d", raw, store.MaxPageSize)
		}
	}
	return page, limit, nil
}
