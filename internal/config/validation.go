package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	src, err := filepath.Abs(cfg.Engine.Source)
	if err != nil {
		return fmt.Errorf("engine.source: %w", err)
	}
	mnt, err := filepath.Abs(cfg.Mount.Point)
	if err != nil {
		return fmt.Errorf("mount.point: %w", err)
	}
	if src == mnt {
		return fmt.Errorf("mount.point: cannot mount over the source directory %s", src)
	}
	return nil
}

// formatValidationError reports the first failed field.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
