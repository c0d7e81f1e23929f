package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/leapstack-labs/fitetl/internal/load"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	// Report koanf keys rather than Go field names.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	hasPostgres := false
	for i, spec := range c.Outputs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: outputs[%d]: %w", i, err)
		}
		if spec.Format == load.FormatPostgres {
			hasPostgres = true
		}
	}
	if hasPostgres && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		return fmt.Errorf("invalid configuration: a postgres output needs postgres.dsn or postgres.host")
	}
	return nil
}

// describe turns one validation failure into a message naming the config key.
func describe(fe validator.FieldError) string {
	key := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return key + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", key, fe.Param(), fmt.Sprint(fe.Value()))
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", key, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s=%s", key, fe.Tag(), fe.Param())
	}
}
