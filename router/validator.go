package router

import (
	"gopkg.in/go-playground/validator.v9"

	"github.com/awgpanel/awg-manager/model"
)

// NewValidator returns the request validator with the "protocol" tag
// registered.
func NewValidator() *Validator {
	v := validator.New()
	// only fails on a programming error in the tag name
	if err := v.RegisterValidation("protocol", validateProtocol); err != nil {
		panic(err)
	}
	return &Validator{
		validator: v,
	}
}

// Validator struct
type Validator struct {
	validator *validator.Validate
}

// Validate func
func (v *Validator) Validate(i interface{}) error {
	return v.validator.Struct(i)
}

func validateProtocol(fl validator.FieldLevel) bool {
	_, err := model.ParseProtocol(fl.Field().String())
	return err == nil
}
