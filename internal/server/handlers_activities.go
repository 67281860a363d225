package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tabletop-signup/internal/signup"
)

type activityURI struct {
	ID uint `uri:"id" binding:"required,min=1"`
}

type entryURI struct {
	ID      uint `uri:"id" binding:"required,min=1"`
	EntryID uint `uri:"entryID" binding:"required,min=1"`
}

type createActivityRequest struct {
	TableID         uint       `json:"table_id" binding:"required,min=1"`
	Name            string     `json:"name" binding:"required"`
	ExternalRef     string     `json:"external_ref"`
	ThumbnailURL    string     `json:"thumbnail_url" binding:"omitempty,url"`
	StartsAt        *time.Time `json:"starts_at"`
	DurationMinutes int        `json:"duration_minutes" binding:"min=0"`
	MinParticipants int        `json:"min_participants" binding:"min=0"`
	MaxParticipants int        `json:"max_participants" binding:"min=0"`
	HostName        string     `json:"host_name"`
	HostEmail       string     `json:"host_email"`
}

var createActivityRules = bindRules{
	"table_id":         {"required": "is required", "min": "is required"},
	"name":             {"required": "is required"},
	"thumbnail_url":    {"url": "must be a URL"},
	"duration_minutes": {"min": "must not be negative"},
	"min_participants": {"min": "must not be negative"},
	"max_participants": {"min": "must not be negative"},
}

type joinRequest struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	WantsWaitlist bool   `json:"wants_waitlist"`
}

type capacityRequest struct {
	MinParticipants int `json:"min_participants" binding:"min=1"`
	MaxParticipants int `json:"max_participants" binding:"min=1"`
}

var capacityRules = bindRules{
	"min_participants": {"min": "must be at least 1"},
	"max_participants": {"min": "must be at least 1"},
}

func (s *Server) handleCreateActivity(c *gin.Context) {
	var req createActivityRequest
	if !s.bindJSON(c, &req, createActivityRules) {
		return
	}
	spec := signup.ActivitySpec{
		TableID:         req.TableID,
		Name:            req.Name,
		ExternalRef:     req.ExternalRef,
		ThumbnailURL:    req.ThumbnailURL,
		DurationMinutes: req.DurationMinutes,
		MinParticipants: req.MinParticipants,
		MaxParticipants: req.MaxParticipants,
		Host:            personOrActor(req.HostName, req.HostEmail, s.actorFromRequest(c)),
	}
	if req.StartsAt != nil {
		spec.StartsAt = *req.StartsAt
	}
	activity, err := s.queues.CreateActivity(c.Request.Context(), spec)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, activity)
}

func (s *Server) handleGetQueue(c *gin.Context) {
	var uri activityURI
	if !s.bindURI(c, &uri, signup.ErrActivityNotFound) {
		return
	}
	queue, err := s.queues.GetQueue(c.Request.Context(), uri.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, queue)
}

func (s *Server) handleJoin(c *gin.Context) {
	var uri activityURI
	if !s.bindURI(c, &uri, signup.ErrActivityNotFound) {
		return
	}
	var req joinRequest
	if !s.bindJSON(c, &req, nil) {
		return
	}
	result, err := s.queues.Join(c.Request.Context(), s.joining, signup.JoinRequest{
		ActivityID:    uri.ID,
		Participant:   personOrActor(req.Name, req.Email, s.actorFromRequest(c)),
		WantsWaitlist: req.WantsWaitlist,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) handleResign(c *gin.Context) {
	var uri entryURI
	if !s.bindURI(c, &uri, signup.ErrEntryNotFound) {
		return
	}
	result, err := s.queues.Resign(c.Request.Context(), signup.ResignRequest{
		ActivityID: uri.ID,
		EntryID:    uri.EntryID,
		Actor:      s.actorFromRequest(c),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSetActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var uri activityURI
		if !s.bindURI(c, &uri, signup.ErrActivityNotFound) {
			return
		}
		activity, err := s.queues.SetActive(c.Request.Context(), uri.ID, active, s.actorFromRequest(c))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, activity)
	}
}

func (s *Server) handleSetCapacity(c *gin.Context) {
	var uri activityURI
	if !s.bindURI(c, &uri, signup.ErrActivityNotFound) {
		return
	}
	var req capacityRequest
	if !s.bindJSON(c, &req, capacityRules) {
		return
	}
	queue, err := s.queues.SetCapacity(c.Request.Context(), uri.ID, req.MinParticipants, req.MaxParticipants, s.actorFromRequest(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, queue)
}

func (s *Server) handleDeleteActivity(c *gin.Context) {
	var uri activityURI
	if !s.bindURI(c, &uri, signup.ErrActivityNotFound) {
		return
	}
	if err := s.queues.DeleteActivity(c.Request.Context(), uri.ID, s.actorFromRequest(c)); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
