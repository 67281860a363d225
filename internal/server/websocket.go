package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tabletop-signup/internal/notify"
)

type eventsQuery struct {
	Topic string `form:"topic" binding:"omitempty,topic"`
}

var eventsRules = bindRules{
	"topic": {"topic": "must be all, activity:<id> or poll:<id>"},
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event stream disabled"})
		return
	}
	var query eventsQuery
	if !s.bindQuery(c, &query, eventsRules) {
		return
	}
	topic := query.Topic
	if topic == "" {
		topic = notify.TopicAll
	}
	s.hub.Serve(c.Writer, c.Request, topic)
}
