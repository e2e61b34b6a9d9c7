package shared

// Fleet permissions.
const (
	PermVehiclesView  = "view_vehicles"
	PermVehiclesEdit  = "edit_vehicles"
	PermVehiclesTrack = "track_vehicles"

	PermExpensesView    = "view_expenses"
	PermExpensesApprove = "approve_expenses"

	PermMaintenanceView    = "view_maintenance"
	PermMaintenanceApprove = "approve_maintenance"

	PermReportsView = "view_reports"
)

// Administrative permissions.
const (
	PermRolesManage = "manage_roles"
	PermUsersManage = "manage_users"
)

// CoreScopes lists every permission the seed registers.
func CoreScopes() []string {
	return []string{
		PermVehiclesView,
		PermVehiclesEdit,
		PermVehiclesTrack,
		PermExpensesView,
		PermExpensesApprove,
		PermMaintenanceView,
		PermMaintenanceApprove,
		PermReportsView,
		PermRolesManage,
		PermUsersManage,
	}
}
