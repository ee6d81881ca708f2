package rbac

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var permTokenPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ErrInvalidConfig is returned when a submitted role config fails validation.
var ErrInvalidConfig = errors.New("rbac: invalid role config")

// NewValidator returns a validator aware of the permission token format.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("permtoken", func(fl validator.FieldLevel) bool {
		return permTokenPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks a role config submitted by an administrator. The engine
// itself never rejects configs coming from the remote store.
func Validate(v *validator.Validate, cfg RolePermissions) error {
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ValidRoleName reports whether the name can key a custom role.
func ValidRoleName(name string) bool {
	trimmed := strings.TrimSpace(name)
	return trimmed != "" && trimmed == name && len(name) <= 64
}
