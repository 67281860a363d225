package server

import (
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"tabletop-signup/internal/notify"
)

var validatorOnce sync.Once

func registerValidators() {
	validatorOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		engine.RegisterTagNameFunc(wireName)
		_ = engine.RegisterValidation("topic", func(fl validator.FieldLevel) bool {
			return validTopic(fl.Field().String())
		})
	})
}

// wireName reports fields under the name clients send them by.
func wireName(field reflect.StructField) string {
	for _, key := range []string{"json", "form", "uri"} {
		if name, _, _ := strings.Cut(field.Tag.Get(key), ","); name != "" && name != "-" {
			return name
		}
	}
	return field.Name
}

// validTopic accepts "all", "activity:<id>" and "poll:<id>".
func validTopic(topic string) bool {
	if topic == notify.TopicAll {
		return true
	}
	kind, id, ok := strings.Cut(topic, ":")
	if !ok || (kind != "activity" && kind != "poll") {
		return false
	}
	n, err := strconv.ParseUint(id, 10, 64)
	return err == nil && n > 0
}
