package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"sparkify/internal/storage"
	_ "sparkify/internal/storage/all"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path uses the YAML key layout.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("storage_kind", func(fl validator.FieldLevel) bool {
		return slices.Contains(storage.RegisteredKinds(), fl.Field().String())
	})
	return v
}

// Validate checks cfg. Errors block a run; warnings are printed only.
func Validate(cfg Config) []Issue {
	var issues []Issue

	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return append(issues, Issue{Severity: SeverityError, Path: "", Message: err.Error()})
		}
		for _, fe := range fieldErrs {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fieldPath(fe),
				Message:  fieldMessage(fe),
			})
		}
	}

	if cfg.Metrics.Backend != "prompush" && strings.TrimSpace(cfg.Metrics.PushgatewayURL) != "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "metrics.pushgateway_url",
			Message:  fmt.Sprintf("ignored with metrics backend %q", cfg.Metrics.Backend),
		})
	}
	if cfg.Metrics.Backend != "datadog" && strings.TrimSpace(cfg.Metrics.Tags) != "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "metrics.tags",
			Message:  fmt.Sprintf("ignored with metrics backend %q", cfg.Metrics.Backend),
		})
	}
	if cfg.Storage.Kind == "sqlite" && strings.Contains(cfg.Storage.DSN, "mode=memory") {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.dsn",
			Message:  "in-memory database is discarded when the run ends",
		})
	}
	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

func summarize(issues []Issue) string {
	var parts []string
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			parts = append(parts, iss.Path+": "+iss.Message)
		}
	}
	return strings.Join(parts, "; ")
}

// fieldPath drops the root struct name: "Config.storage.kind" -> "storage.kind".
func fieldPath(fe validator.FieldError) string {
	_, rest, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return rest
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must be set"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "storage_kind":
		return fmt.Sprintf("must be one of [%s], got %q", strings.Join(storage.RegisteredKinds(), " "), fmt.Sprint(fe.Value()))
	case "min":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "required_if":
		field, value, _ := strings.Cut(fe.Param(), " ")
		return fmt.Sprintf("must be set when %s is %s", strings.ToLower(field), value)
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
