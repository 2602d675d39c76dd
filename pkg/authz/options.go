package authz

import (
	"errors"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/nzwater/compliance-core/pkg/configuration"
)

// Options configures the casbin-backed Service.
type Options struct {
	ModelPath  string
	PolicyPath string
	Flags      FlagProvider
	Logger     logrus.FieldLogger
}

// OptionsFromConfig reads the mode from AUTHZ_FLAG_CONFIG, falling back to AUTHZ_MODE.
func OptionsFromConfig(conf configuration.AuthzOptions, logger logrus.FieldLogger) Options {
	return Options{
		ModelPath:  filepath.Clean(conf.ModelPath),
		PolicyPath: filepath.Clean(conf.PolicyPath),
		Flags:      NewFileFlagProvider(conf.FlagConfigPath, ParseMode(conf.Mode)),
		Logger:     logger,
	}
}

func (o Options) validate() error {
	var errs []error
	if o.ModelPath == "" {
		errs = append(errs, errors.New("authz: model path is required"))
	}
	if o.PolicyPath == "" {
		errs = append(errs, errors.New("authz: policy path is required"))
	}
	if o.Flags == nil {
		errs = append(errs, errors.New("authz: flag provider is required"))
	}
	return errors.Join(errs...)
}
