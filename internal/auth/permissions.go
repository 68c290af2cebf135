package auth

import (
	"fmt"
	"strings"
)

// Module names a functional area of the clinic application guarded by the
// staff permission matrix.
type Module string

const (
	ModuleAppointments  Module = "citas"
	ModulePatients      Module = "pacientes"
	ModuleConsultations Module = "consultas"
	ModuleTasks         Module = "tareas"
	ModuleLab           Module = "laboratorio"
	ModulePrescriptions Module = "recetas"
	ModuleBilling       Module = "facturacion"
	ModuleInventory     Module = "inventario"
	ModuleReports       Module = "reportes"
	ModuleUsers         Module = "usuarios"
	ModuleRoles         Module = "roles"
	ModuleAudit         Module = "auditoria"
	ModuleSettings      Module = "configuracion"

	// ModuleAuth is used for audit entries only; it is not assignable.
	ModuleAuth Module = "auth"
)

// Modules lists every module that can carry permissions, in display order.
var Modules = []Module{
	ModuleAppointments,
	ModulePatients,
	ModuleConsultations,
	ModuleTasks,
	ModuleLab,
	ModulePrescriptions,
	ModuleBilling,
	ModuleInventory,
	ModuleReports,
	ModuleUsers,
	ModuleRoles,
	ModuleAudit,
	ModuleSettings,
}

// ParseModule rejects module names outside the known set.
func ParseModule(raw string) (Module, error) {
	m := Module(strings.TrimSpace(strings.ToLower(raw)))
	for _, known := range Modules {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown module %q", ErrInvalidInput, raw)
}

// Action is one column of the permission matrix.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Capabilities is the boolean matrix row for a single (role, module).
type Capabilities struct {
	View   bool `json:"view"`
	Create bool `json:"create"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`
}

// Allows reports whether the capability set grants action.
func (c Capabilities) Allows(action Action) bool {
	switch action {
	case ActionView:
		return c.View
	case ActionCreate:
		return c.Create
	case ActionUpdate:
		return c.Update
	case ActionDelete:
		return c.Delete
	default:
		return false
	}
}

// Any reports whether at least one action is granted.
func (c Capabilities) Any() bool {
	return c.View || c.Create || c.Update || c.Delete
}

// Permission is the stored matrix row for a role and module.
type Permission struct {
	ID          string       `json:"id"`
	RoleID      string       `json:"-"`
	Module      Module       `json:"module"`
	Permissions Capabilities `json:"permissions"`
}

// Lookup returns the capabilities granted for module in perms.
func Lookup(perms []Permission, module Module) (Capabilities, bool) {
	for _, p := range perms {
		if p.Module == module {
			return p.Permissions, true
		}
	}
	return Capabilities{}, false
}
