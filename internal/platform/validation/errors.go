package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrorBody is a standard validation error payload.
type ErrorBody struct {
	Success bool                `json:"success"`
	Error   string              `json:"error"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

// ErrorResponse converts a validator error into a structured response whose
// Error names the first failing field and rule.
func ErrorResponse(err error) ErrorBody {
	fields := map[string][]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			field := namespaceOf(fe)
			fields[field] = append(fields[field], fe.Tag())
		}
	}
	if len(fields) == 0 {
		return ErrorBody{Error: err.Error()}
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	first := names[0]
	return ErrorBody{Error: fmt.Sprintf("invalid %s: %s", first, strings.Join(fields[first], ",")), Fields: fields}
}

// namespaceOf strips the root struct name: "sendReq.Recipients[3].Email" -> "recipients[3].email".
func namespaceOf(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}
