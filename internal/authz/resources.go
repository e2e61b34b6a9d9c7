package authz

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"
)

// StatusPending marks transactions and maintenance records awaiting approval.
const StatusPending = "pending"

// Permission tokens used by the resource helpers.
const (
	PermEditVehicles       = "edit_vehicles"
	PermApproveExpenses    = "approve_expenses"
	PermApproveMaintenance = "approve_maintenance"
	PermViewReports        = "view_reports"
)

// ReportFinancial is the report type that stamps the request time into the context.
const ReportFinancial = "financial"

// Vehicle is the slice of a vehicle record rules care about.
type Vehicle struct {
	ID         int64
	Department string
	DriverID   *int64
}

// Transaction is the slice of an expense transaction rules care about.
type Transaction struct {
	ID     int64
	Amount decimal.Decimal
	Status string
}

// Maintenance is the slice of a maintenance record rules care about.
type Maintenance struct {
	ID     int64
	Cost   decimal.Decimal
	Status string
}

// ResourceStore loads resource attributes. Implementations return ErrResourceNotFound
// when the id does not resolve.
type ResourceStore interface {
	Vehicle(ctx context.Context, id int64) (Vehicle, error)
	Transaction(ctx context.Context, id int64) (Transaction, error)
	Maintenance(ctx context.Context, id int64) (Maintenance, error)
}

// resourceFields maps resource names to the context field their id is attached to.
var resourceFields = map[string]func(*Context, int64){
	"vehicles":     func(c *Context, id int64) { c.VehicleID = Ptr(id) },
	"transactions": func(c *Context, id int64) { c.TransactionID = Ptr(id) },
	"maintenance":  func(c *Context, id int64) { c.MaintenanceID = Ptr(id) },
}

// CanEditVehicle checks edit_vehicles scoped to the vehicle's department.
// A zero subjectID means the caller is unauthenticated.
func (s *Service) CanEditVehicle(ctx context.Context, subjectID, vehicleID int64) Result {
	vehicle, err := s.resources.Vehicle(ctx, vehicleID)
	if err != nil {
		return s.resourceFailure(err, "vehicle", vehicleID, ReasonVehicleNotFound)
	}
	c := subjectContext(subjectID)
	c.VehicleID = Ptr(vehicle.ID)
	if vehicle.Department != "" {
		c.Department = Ptr(vehicle.Department)
	}
	return s.CheckPermission(ctx, PermEditVehicles, c)
}

// CanApproveTransaction checks approve_expenses against the transaction amount. Only
// pending transactions can be approved.
func (s *Service) CanApproveTransaction(ctx context.Context, subjectID, transactionID int64) Result {
	tx, err := s.resources.Transaction(ctx, transactionID)
	if err != nil {
		return s.resourceFailure(err, "transaction", transactionID, ReasonTransactionNotFound)
	}
	if tx.Status != StatusPending {
		return Deny(ReasonTransactionResolved)
	}
	c := subjectContext(subjectID)
	c.TransactionID = Ptr(tx.ID)
	c.Amount = Ptr(tx.Amount)
	return s.CheckPermission(ctx, PermApproveExpenses, c)
}

// CanApproveMaintenance checks approve_maintenance against the maintenance cost. Only
// pending records can be approved.
func (s *Service) CanApproveMaintenance(ctx context.Context, subjectID, maintenanceID int64) Result {
	m, err := s.resources.Maintenance(ctx, maintenanceID)
	if err != nil {
		return s.resourceFailure(err, "maintenance", maintenanceID, ReasonMaintenanceNotFound)
	}
	if m.Status != StatusPending {
		return Deny(ReasonMaintenanceResolved)
	}
	c := subjectContext(subjectID)
	c.MaintenanceID = Ptr(m.ID)
	c.Amount = Ptr(m.Cost)
	return s.CheckPermission(ctx, PermApproveMaintenance, c)
}

// CanAccessReports checks view_reports. Financial reports carry the request time so a time
// restriction on the role applies to it explicitly.
func (s *Service) CanAccessReports(ctx context.Context, subjectID int64, reportType string) Result {
	c := subjectContext(subjectID)
	if reportType == ReportFinancial {
		c.Time = Ptr(s.now())
	}
	return s.CheckPermission(ctx, PermViewReports, c)
}

// CanPerformAction checks the permission "<action>_<resource>". The resource id is attached
// to the matching context field for known resources and dropped otherwise.
func (s *Service) CanPerformAction(ctx context.Context, subjectID int64, action, resource string, resourceID *int64) Result {
	c := subjectContext(subjectID)
	if resourceID != nil {
		if set, ok := resourceFields[resource]; ok {
			set(&c, *resourceID)
		}
	}
	return s.CheckPermission(ctx, PermissionName(action, resource), c)
}

// PermissionName composes a permission token from an action and a resource.
func PermissionName(action, resource string) string {
	return action + "_" + resource
}

func (s *Service) resourceFailure(err error, kind string, id int64, notFound string) Result {
	if errors.Is(err, ErrResourceNotFound) {
		return Deny(notFound)
	}
	s.logger.Error("authz load resource",
		slog.String("resource", kind),
		slog.Int64("id", id),
		slog.Any("error", err))
	return Deny(ReasonCheckFailed)
}
