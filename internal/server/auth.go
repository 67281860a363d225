package server

import (
	"strings"

	"github.com/gin-gonic/gin"

	"tabletop-signup/internal/auth"
	"tabletop-signup/internal/signup"
	"tabletop-signup/internal/validate"
)

const (
	headerActorName  = "X-Actor-Name"
	headerActorEmail = "X-Actor-Email"
	headerAdminToken = "X-Admin-Token"
)

// actorFromRequest reads the caller's identity from request headers. Sign-in
// is handled upstream; the admin flag is only set for a matching token.
func (s *Server) actorFromRequest(c *gin.Context) auth.Actor {
	return auth.Actor{
		Name:  validate.NormalizeText(c.GetHeader(headerActorName)),
		Email: validate.NormalizeEmail(c.GetHeader(headerActorEmail)),
		Admin: auth.TokenMatches(s.cfg.AdminToken, c.GetHeader(headerAdminToken)),
	}
}

// personOrActor fills missing identity fields from the request headers.
func personOrActor(name, email string, actor auth.Actor) signup.Person {
	if strings.TrimSpace(name) == "" {
		name = actor.Name
	}
	if strings.TrimSpace(email) == "" {
		email = actor.Email
	}
	return signup.Person{Name: name, Email: email}
}
