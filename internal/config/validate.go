package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// configValidate checks struct tags on Config. Initialized in init() with
// custom validators.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()

	_ = configValidate.RegisterValidation("ascending", validateAscending)
}

// validateAscending accepts a float slice whose values are finite and
// strictly ascending.
func validateAscending(fl validator.FieldLevel) bool {
	values, ok := fl.Field().Interface().([]float64)
	if !ok {
		return false
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		if i > 0 && v <= values[i-1] {
			return false
		}
	}
	return true
}

// Validate reports every field that is out of range. The returned error
// wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []string

	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	if c.Epsilon.Initial < c.Epsilon.Min || c.Epsilon.Initial > c.Epsilon.Max {
		problems = append(problems, fmt.Sprintf("epsilon.initial %v outside [min %v, max %v]", c.Epsilon.Initial, c.Epsilon.Min, c.Epsilon.Max))
	}
	if err := c.RewardParams().Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s (got %v)", field, fe.Tag(), fe.Value())
}
