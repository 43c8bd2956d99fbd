package api

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"procresolver/internal/compat"
	"procresolver/internal/resolver"
	"procresolver/pkg/models"
)

// maxCursorLength bounds cursor query parameters.
const maxCursorLength = 4096

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	if err := validate.RegisterValidation("entityid", validateEntityID); err != nil {
		panic(fmt.Sprintf("register entityid validation: %v", err))
	}
}

func validateEntityID(fl validator.FieldLevel) bool {
	return models.EntityID(fl.Field().String()).Validate() == nil
}

// ValidationError rejects a request before any resolution work.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) addValidator(err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		e.add("body", err.Error())
		return
	}
	for _, fe := range verrs {
		e.add(fieldPath(fe), fieldMessage(fe))
	}
}

func (e *ValidationError) orNil() *ValidationError {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// fieldPath drops the struct name from the namespace: TreeBody.timeRange.to
// becomes timeRange.to.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	isList := fe.Kind() == reflect.Slice
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if isList {
			return fmt.Sprintf("must contain at least %s items", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max":
		if isList {
			return fmt.Sprintf("must contain at most %s items", fe.Param())
		}
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "gtefield":
		return "must not be before " + strings.ToLower(fe.Param())
	case "entityid":
		return "is not a valid entity id"
	}
	return "failed " + fe.Tag() + " validation"
}

// parsePage reads limit, generations and cursor, falling back to defaults.
func parsePage(c *gin.Context, limits Limits, verr *ValidationError) pageParams {
	p := pageParams{
		Limit:       limits.DefaultPageSize,
		Generations: limits.DefaultGenerations,
		Cursor:      c.Query("cursor"),
	}
	p.Limit = queryInt(c, "limit", p.Limit, verr)
	p.Generations = queryInt(c, "generations", p.Generations, verr)
	if len(verr.Fields) > 0 {
		return p
	}
	checkRange("limit", p.Limit, 1, limits.MaxPageSize, verr)
	checkRange("generations", p.Generations, 0, limits.MaxGenerations, verr)
	if err := validate.Struct(p); err != nil {
		verr.addValidator(err)
	}
	return p
}

func checkRange(field string, v, lo, hi int, verr *ValidationError) {
	err := validate.Var(v, fmt.Sprintf("min=%d,max=%d", lo, hi))
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		verr.add(field, fieldMessage(verrs[0]))
	}
}

func queryInt(c *gin.Context, name string, def int, verr *ValidationError) int {
	raw, ok := c.GetQuery(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		verr.add(name, "must be an integer")
		return def
	}
	return n
}

func parseEntityID(raw, field string, verr *ValidationError) models.EntityID {
	if err := validate.Var(raw, "required,entityid"); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && verrs[0].Tag() == "required" {
			verr.add(field, "is required")
		} else {
			verr.add(field, "is not a valid entity id")
		}
	}
	return models.EntityID(raw)
}

func parseCursor(c *gin.Context, field string, verr *ValidationError) string {
	raw := c.Query(field)
	if len(raw) > maxCursorLength {
		verr.add(field, fmt.Sprintf("must be at most %d characters", maxCursorLength))
	}
	return raw
}

func bindBody(c *gin.Context, body any, verr *ValidationError) {
	if err := c.ShouldBindJSON(body); err != nil {
		verr.add("body", "must be a valid JSON object")
		return
	}
	if err := validate.Struct(body); err != nil {
		verr.addValidator(err)
	}
}

func toWindow(tr *TimeRangeBody) resolver.TimeRange {
	if tr == nil {
		return resolver.TimeRange{}
	}
	return resolver.TimeRange{From: tr.From.UTC(), To: tr.To.UTC()}
}

func toEntityIDs(raw []string) []models.EntityID {
	out := make([]models.EntityID, len(raw))
	for i, s := range raw {
		out[i] = models.EntityID(s)
	}
	return out
}

func parseTree(c *gin.Context, limits Limits) (compat.Request, *ValidationError) {
	verr := &ValidationError{}
	page := parsePage(c, limits, verr)
	var body TreeBody
	bindBody(c, &body, verr)
	if e := verr.orNil(); e != nil {
		return compat.Request{}, e
	}
	return compat.Request{
		Variant:     compat.UnifiedTree,
		EntityIDs:   toEntityIDs(body.Nodes),
		Generations: page.Generations,
		PageSize:    page.Limit,
		Cursor:      page.Cursor,
		Window:      toWindow(body.TimeRange),
	}, nil
}

func parseEvents(c *gin.Context, limits Limits) (compat.Request, *ValidationError) {
	verr := &ValidationError{}
	page := parsePage(c, limits, verr)
	var body EventsBody
	bindBody(c, &body, verr)
	if e := verr.orNil(); e != nil {
		return compat.Request{}, e
	}
	return compat.Request{
		Variant:   compat.UnifiedEvents,
		EntityIDs: toEntityIDs(body.EntityIDs),
		PageSize:  page.Limit,
		Cursor:    page.Cursor,
		Window:    toWindow(body.TimeRange),
	}, nil
}

// parseLegacy validates the path id of a deprecated route and the cursor
// parameter it names, if any.
func parseLegacy(c *gin.Context, variant compat.Variant, cursorField string) (compat.Request, *ValidationError) {
	verr := &ValidationError{}
	req := compat.Request{Variant: variant, EntityID: parseEntityID(c.Param("id"), "id", verr)}
	if cursorField != "" {
		req.Cursor = parseCursor(c, cursorField, verr)
	}
	if e := verr.orNil(); e != nil {
		return compat.Request{}, e
	}
	return req, nil
}

func parseEntity(c *gin.Context) (compat.Request, *ValidationError) {
	verr := &ValidationError{}
	id := parseEntityID(c.Query("_id"), "_id", verr)
	if e := verr.orNil(); e != nil {
		return compat.Request{}, e
	}
	return compat.Request{Variant: compat.Entity, EntityID: id}, nil
}
