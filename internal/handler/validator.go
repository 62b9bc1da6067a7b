package handler

import (
    "fmt"
    "net/http"
    "reflect"
    "sort"
    "strings"

    "github.com/go-playground/validator/v10"
    "github.com/labstack/echo/v4"
)

// RequestValidator plugs go-playground/validator into echo so handlers can
// call c.Validate on bound request bodies.
type RequestValidator struct {
    v *validator.Validate
}

// NewRequestValidator returns a validator that reports JSON field names.
func NewRequestValidator() *RequestValidator {
    v := validator.New(validator.WithRequiredStructEnabled())
    v.RegisterTagNameFunc(jsonFieldName)
    return &RequestValidator{v: v}
}

// Validate implements echo.Validator.
func (rv *RequestValidator) Validate(i interface{}) error {
    return rv.v.Struct(i)
}

// ParseError flattens validator errors into field -> message.  Non-validator
// errors are reported under "error".
func ParseError(err error) map[string]string {
    errs := make(map[string]string)
    if ve, ok := err.(validator.ValidationErrors); ok {
        for _, fe := range ve {
            errs[fe.Field()] = fmt.Sprintf("field validation for '%s' failed on the '%s' tag", fe.Field(), fe.Tag())
        }
    } else if err != nil {
        errs["error"] = err.Error()
    }
    return errs
}

// validationResponse renders a validator error as a 422 naming the first
// offending field in lexical order, plus the full map.
func validationResponse(c echo.Context, err error) error {
    fields := ParseError(err)
    keys := make([]string, 0, len(fields))
    for k := range fields {
        keys = append(keys, k)
    }
    sort.Strings(keys)
    first := ""
    if len(keys) > 0 {
        first = keys[0]
    }
    return c.JSON(http.StatusUnprocessableEntity, echo.Map{
        "error":   "validation_failed",
        "field":   first,
        "message": fields[first],
        "fields":  fields,
    })
}

// jsonFieldName makes validator report `json:"player_index"` instead of
// PlayerIndex.
func jsonFieldName(fld reflect.StructField) string {
    name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
    switch name {
    case "-":
        return ""
    case "":
        return fld.Name
    }
    return name
}
