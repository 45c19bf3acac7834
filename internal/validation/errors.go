package validation

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmehdipour/email-scheduler/internal/model"
)

// ErrorBody is the standard error payload of the HTTP API.
type ErrorBody struct {
	Error  string              `json:"error"`
	Fields map[string][]string `json:"fields,omitempty"`
}

// ToModel converts validator errors into a *model.ValidationError. Element errors
// such as recipients[1] are reported on their parent field. Other errors are
// returned unchanged.
func ToModel(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &model.ValidationError{}
	for _, fe := range verrs {
		field := fe.Field()
		if i := strings.IndexByte(field, '['); i > 0 {
			field = field[:i]
		}
		out.Add(field, fe.Tag())
	}
	return out
}

// ErrorResponse builds the payload for a validation failure.
func ErrorResponse(err error) ErrorBody {
	var verr *model.ValidationError
	if errors.As(ToModel(err), &verr) && len(verr.Fields) > 0 {
		return ErrorBody{Error: "validation_failed", Fields: verr.Fields}
	}
	return ErrorBody{Error: "validation_failed", Fields: map[string][]string{}}
}
