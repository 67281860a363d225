package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tabletop-signup/internal/polls"
)

type pollURI struct {
	ID uint `uri:"id" binding:"required,min=1"`
}

type optionURI struct {
	ID       uint `uri:"id" binding:"required,min=1"`
	OptionID uint `uri:"optionID" binding:"required,min=1"`
}

type createPollRequest struct {
	TableID      uint                `json:"table_id" binding:"required,min=1"`
	CreatorName  string              `json:"creator_name"`
	CreatorEmail string              `json:"creator_email"`
	StartsAt     *time.Time          `json:"starts_at"`
	Note         string              `json:"note"`
	Options      []polls.OptionInput `json:"options" binding:"required"`
}

var createPollRules = bindRules{
	"table_id": {"required": "is required", "min": "is required"},
	"options":  {"required": "are required"},
}

type voteRequest struct {
	OptionID   uint   `json:"option_id" binding:"required,min=1"`
	VoterName  string `json:"voter_name"`
	VoterEmail string `json:"voter_email"`
}

var voteRules = bindRules{
	"option_id": {"required": "is required", "min": "is required"},
}

func (s *Server) handleCreatePoll(c *gin.Context) {
	var req createPollRequest
	if !s.bindJSON(c, &req, createPollRules) {
		return
	}
	create := polls.CreatePollRequest{
		TableID: req.TableID,
		Creator: personOrActor(req.CreatorName, req.CreatorEmail, s.actorFromRequest(c)),
		Note:    req.Note,
		Options: req.Options,
	}
	if req.StartsAt != nil {
		create.StartsAt = *req.StartsAt
	}
	state, err := s.polls.CreatePoll(c.Request.Context(), create)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (s *Server) handleGetPoll(c *gin.Context) {
	var uri pollURI
	if !s.bindURI(c, &uri, polls.ErrPollNotFound) {
		return
	}
	state, err := s.polls.GetPollState(c.Request.Context(), uri.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleAddOption(c *gin.Context) {
	var uri pollURI
	if !s.bindURI(c, &uri, polls.ErrPollNotFound) {
		return
	}
	var input polls.OptionInput
	if !s.bindJSON(c, &input, nil) {
		return
	}
	option, err := s.polls.AddOption(c.Request.Context(), uri.ID, input)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, option)
}

func (s *Server) handleEditPoll(c *gin.Context) {
	var uri pollURI
	if !s.bindURI(c, &uri, polls.ErrPollNotFound) {
		return
	}
	var req polls.EditPollRequest
	if !s.bindJSON(c, &req, nil) {
		return
	}
	state, err := s.polls.EditPoll(c.Request.Context(), uri.ID, req, s.actorFromRequest(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleRemoveOption(c *gin.Context) {
	var uri optionURI
	if !s.bindURI(c, &uri, polls.ErrOptionNotFound) {
		return
	}
	state, err := s.polls.RemoveOption(c.Request.Context(), uri.ID, uri.OptionID, s.actorFromRequest(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleCastVote(c *gin.Context) {
	var uri pollURI
	if !s.bindURI(c, &uri, polls.ErrPollNotFound) {
		return
	}
	var req voteRequest
	if !s.bindJSON(c, &req, voteRules) {
		return
	}
	voter := personOrActor(req.VoterName, req.VoterEmail, s.actorFromRequest(c))
	result, err := s.polls.CastVote(c.Request.Context(), s.voting, polls.VoteRequest{
		PollID:     uri.ID,
		OptionID:   req.OptionID,
		VoterName:  voter.Name,
		VoterEmail: voter.Email,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) handleClosePoll(c *gin.Context) {
	var uri pollURI
	if !s.bindURI(c, &uri, polls.ErrPollNotFound) {
		return
	}
	state, err := s.polls.ClosePoll(c.Request.Context(), uri.ID, s.actorFromRequest(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
