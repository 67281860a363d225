package server

import (
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"tabletop-signup/internal/apperr"
)

// bindRules maps a request field, by its wire name, to the message reported
// for each validation tag it fails.
type bindRules map[string]map[string]string

// Binding failures go through writeError so clients see the same error and
// field keys the engines produce.
func (s *Server) bindJSON(c *gin.Context, req any, rules bindRules) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		s.writeError(c, bindError(err, rules))
		return false
	}
	return true
}

// bindURI answers an unparseable path id with missing, since no record can
// carry that id.
func (s *Server) bindURI(c *gin.Context, req any, missing error) bool {
	if err := c.ShouldBindUri(req); err != nil {
		s.writeError(c, missing)
		return false
	}
	return true
}

func (s *Server) bindQuery(c *gin.Context, req any, rules bindRules) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		s.writeError(c, bindError(err, rules))
		return false
	}
	return true
}

func bindError(err error, rules bindRules) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		for _, verr := range verrs {
			if msg, ok := rules[verr.Field()][verr.Tag()]; ok {
				return apperr.Invalid(verr.Field(), "%s", msg)
			}
		}
		return apperr.Invalid(verrs[0].Field(), "failed %s check", verrs[0].Tag())
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return apperr.Invalid(typeErr.Field, "must be a %s", typeErr.Type)
	}
	return apperr.Invalid("request", "is malformed")
}
