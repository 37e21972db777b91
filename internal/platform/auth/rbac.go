package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ClinicalRole is a role in the unit's user directory.
type ClinicalRole string

const (
	RoleStaffNurse  ClinicalRole = "staff_nurse"
	RoleChargeNurse ClinicalRole = "charge_nurse"
	RolePhysician   ClinicalRole = "physician"
	RoleAdmin       ClinicalRole = "admin"
	// RoleDevice is held by edge camera/OCR devices, never by a person.
	RoleDevice ClinicalRole = "device"
)

// Valid reports whether r is a known role.
func (r ClinicalRole) Valid() bool {
	switch r {
	case RoleStaffNurse, RoleChargeNurse, RolePhysician, RoleAdmin, RoleDevice:
		return true
	}
	return false
}

// IsBedside reports whether the role provides direct bedside care and can
// enter vitals by hand: nurses and physicians.
func (r ClinicalRole) IsBedside() bool {
	return r == RoleStaffNurse || r == RoleChargeNurse || r == RolePhysician
}

// CanReviewClinically reports whether the role may adjudicate a reading that
// failed plausibility checks.
func (r ClinicalRole) CanReviewClinically() bool {
	return r == RolePhysician || r == RoleChargeNurse
}

// ClinicalRoles lists the roles that read patient data.
var ClinicalRoles = []ClinicalRole{RoleStaffNurse, RoleChargeNurse, RolePhysician}

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. Admin passes every check.
func RequireRole(roles ...ClinicalRole) echo.MiddlewareFunc {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(names, " or ")))
		}
	}
}

// HasAnyRole reports whether userRoles grants any of the required roles.
func HasAnyRole(userRoles []string, required ...ClinicalRole) bool {
	for _, has := range userRoles {
		if ClinicalRole(has) == RoleAdmin {
			return true
		}
		for _, r := range required {
			if ClinicalRole(has) == r {
				return true
			}
		}
	}
	return false
}
