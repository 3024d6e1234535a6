package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
)

var errEmptyPayload = errors.New("payload is required")

// PayloadValidator decodes an inbound payload and checks its struct tags.
// Every failure is reported as ErrInvalidPayload naming the first bad field.
type PayloadValidator struct {
	validate *validator.Validate
}

func NewPayloadValidator() *PayloadValidator {
	v := validator.New()
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &PayloadValidator{validate: v}
}

func (v *PayloadValidator) Decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return commonerrors.ErrInvalidPayload.WithCause(errEmptyPayload)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return commonerrors.ErrInvalidPayload.WithCause(err)
	}
	if err := v.validate.Struct(dst); err != nil {
		return commonerrors.ErrInvalidPayload.WithCause(describeValidation(err))
	}
	return nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fmt.Errorf("field %s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("field %s failed %s", fe.Field(), fe.Tag())
	}
	return err
}
