package modules

import (
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/application"
)

// BuiltInModules returns the modules the server loads, in registration order.
func BuiltInModules(maintenanceOpts *maintenance.ModuleOptions) []application.Module {
	return []application.Module{
		maintenance.NewModule(maintenanceOpts),
	}
}
