package config

import (
	"github.com/fourks/sockethub/internal/common/apperrors"
)

var (
	// ErrConfig is the base error for configuration loading.
	ErrConfig = apperrors.New("config error")

	// ErrConfigLoad is returned when a config or secrets file cannot be read
	// or parsed.
	ErrConfigLoad = ErrConfig.New("unable to load config").SetExpandError(true)

	// ErrNoPlatforms is returned when PLATFORMS is missing or empty.
	ErrNoPlatforms = ErrConfig.New("no platforms defined in config (PLATFORMS)")

	// ErrInstanceIDRequired is returned to one-shot commands that must join
	// an existing instance when SESSION.INSTANCE_ID is not configured.
	ErrInstanceIDRequired = ErrConfig.New("SESSION.INSTANCE_ID is not set")

	// ErrInvalidConfig is returned when a loaded config fails validation.
	ErrInvalidConfig = ErrConfig.New("invalid config").SetExpandError(true)
)
