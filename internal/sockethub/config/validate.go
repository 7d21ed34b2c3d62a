package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fourks/sockethub/internal/common"
)

var (
	configValidator *validator.Validate
	validatorOnce   sync.Once
)

// V returns the validator used for Config, with the sockethub tags registered.
func V() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("platformname", platformNameValidator)
		_ = v.RegisterValidation("sockethubid", sockethubIdValidator)
		_ = v.RegisterValidation("duration", durationValidator)
		configValidator = v
	})
	return configValidator
}

var platformNameRegex = regexp.MustCompile(`^[a-z0-9][-_a-z0-9]*$`)

const platformNameMaxLength = 63

func platformNameValidator(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return len(s) <= platformNameMaxLength && platformNameRegex.MatchString(s)
}

func sockethubIdValidator(fl validator.FieldLevel) bool {
	return common.ValidId(fl.Field().String())
}

func durationValidator(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

func validate(cfg *Config) error {
	if err := V().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			var all []error
			for _, fe := range verrs {
				all = append(all, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return ErrInvalidConfig.Err(all...)
		}
		return ErrInvalidConfig.Err(err)
	}
	for _, p := range cfg.Host.MyPlatforms {
		if !slices.Contains(cfg.Platforms, p) {
			return ErrInvalidConfig.Msg(fmt.Sprintf("HOST.MY_PLATFORMS: %q is not listed in PLATFORMS", p))
		}
	}
	return nil
}
