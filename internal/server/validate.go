package server

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	rollNoPattern = regexp.MustCompile(`^[0-9]{2}[A-Za-z][0-9A-Za-z]{2,7}$`)
	registerOnce  sync.Once
)

func validRollNo(fl validator.FieldLevel) bool {
	return rollNoPattern.MatchString(strings.TrimSpace(fl.Field().String()))
}

// registerValidations adds the "rollno" tag to gin's validator and reports
// fields under their JSON names.
func registerValidations() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("rollno", validRollNo)
	})
}

// validationFields maps each failing field to the tag it failed, or returns
// nil when err is not a validation error.
func validationFields(err error) map[string]string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}
