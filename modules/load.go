package modules

import (
	"github.com/nzwater/compliance-core/modules/compliance"
	"github.com/nzwater/compliance-core/pkg/application"
)

// BuiltInModules returns the modules every deployment loads.
func BuiltInModules(opts *compliance.ModuleOptions) []application.Module {
	return []application.Module{
		compliance.NewModule(opts),
	}
}

func Load(app application.Application, opts *compliance.ModuleOptions, externalModules ...application.Module) error {
	return application.Load(app, append(BuiltInModules(opts), externalModules...)...)
}
