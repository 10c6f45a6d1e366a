package mcp

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"reflect"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/folio/internal/errors"
)

// decode converts tool arguments into T. Failures are INVALID_REQUEST errors
// that name the offending argument when it is known.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	args := req.GetArguments()
	if len(args) == 0 {
		return result, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return result, errors.NewInvalidRequest("arguments are not valid JSON: " + err.Error())
	}
	if err := json.Unmarshal(b, &result); err != nil {
		var typeErr *json.UnmarshalTypeError
		if stderrors.As(err, &typeErr) && typeErr.Field != "" {
			return result, errors.NewInvalidRequest(fmt.Sprintf("%s must be a %s", typeErr.Field, jsonKind(typeErr.Type)))
		}
		return result, errors.NewInvalidRequest("invalid arguments: " + err.Error())
	}
	return result, nil
}

func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int64, reflect.Uint64, reflect.Float64:
		return "number"
	default:
		return t.Kind().String()
	}
}
