package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the file locations and provider settings used by a session.
type Config struct {
	Database    string         `mapstructure:"database" yaml:"database" validate:"required"`
	Taxonomy    string         `mapstructure:"taxonomy" yaml:"taxonomy" validate:"required"`
	Settings    string         `mapstructure:"settings" yaml:"settings"`
	Prompts     string         `mapstructure:"prompts" yaml:"prompts"`
	ImagesDir   string         `mapstructure:"images_dir" yaml:"images_dir"`
	LogLevel    string         `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat   string         `mapstructure:"log_format" yaml:"log_format" validate:"omitempty,oneof=json console"`
	MetricsFile string         `mapstructure:"metrics_file" yaml:"metrics_file"`
	Provider    ProviderConfig `mapstructure:"provider" yaml:"provider"`
	Images      ImageConfig    `mapstructure:"images" yaml:"images"`
	Backup      BackupConfig   `mapstructure:"backup" yaml:"backup"`
}

// ProviderConfig addresses the local text-generation service.
type ProviderConfig struct {
	URL        string        `mapstructure:"url" yaml:"url" validate:"omitempty,url"`
	Model      string        `mapstructure:"model" yaml:"model"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
	Candidates int           `mapstructure:"candidates" yaml:"candidates" validate:"gte=0,lte=20"`
}

// ImageConfig controls image normalization.
type ImageConfig struct {
	MaxWidth  int    `mapstructure:"max_width" yaml:"max_width" validate:"gte=0"`
	MaxHeight int    `mapstructure:"max_height" yaml:"max_height" validate:"gte=0"`
	Quality   int    `mapstructure:"quality" yaml:"quality" validate:"gte=0,lte=100"`
	Format    string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=jpeg png"`
}

// BackupConfig enables the post-commit upload of the database. An empty
// bucket disables backups.
type BackupConfig struct {
	Bucket   string `mapstructure:"bucket" yaml:"bucket"`
	Region   string `mapstructure:"region" yaml:"region" validate:"required_with=Bucket"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags and reports every failing field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Namespace())
	switch fe.Tag() {
	case "required", "required_with":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a URL", field)
	default:
		return fmt.Sprintf("%s is invalid (%s=%s)", field, fe.Tag(), fe.Param())
	}
}
