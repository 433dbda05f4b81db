package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/pkg/common"
	"github.com/skylinetransit/ticketing/pkg/database"
)

// Credentials describe the caller of a workflow. Endpoint-layer
// authentication produces them; the workflows only consult scope and
// ids.
type Credentials struct {
	Scope    string     `json:"scope" validate:"required,oneof=user admin superadmin driver system"`
	ID       *uuid.UUID `json:"id,omitempty"`
	AdminID  *uuid.UUID `json:"adminId,omitempty"`
	Email    string     `json:"email,omitempty"`
	DriverID *uuid.UUID `json:"driverId,omitempty"`
}

// Actor renders the credentials as a transaction creator identity
func (c Credentials) Actor() ledger.Actor {
	actor := ledger.Actor{Scope: c.Scope}
	switch {
	case c.ID != nil:
		actor.ID = c.ID.String()
	case c.AdminID != nil:
		actor.ID = c.AdminID.String()
	case c.DriverID != nil:
		actor.ID = c.DriverID.String()
	}
	return actor
}

// Guard is the admin-policy collaborator. Implementations raise on
// denial; workflows never branch on the reason.
type Guard interface {
	AssertAdminRole(ctx context.Context, q database.Querier, creds Credentials, action string, companyID uuid.UUID) error
}

// newForbiddenError reports an admin-policy denial
func newForbiddenError(message string) *common.AppError {
	return &common.AppError{
		Kind:    common.KindTransaction,
		Code:    http.StatusForbidden,
		Reason:  "forbidden",
		Message: message,
	}
}

// PolicyGuard grants superadmins everything and company admins their
// own company
type PolicyGuard struct {
	repo AdminStore
}

// AdminStore resolves company-admin membership
type AdminStore interface {
	IsCompanyAdmin(ctx context.Context, q database.Querier, adminID, companyID uuid.UUID) (bool, error)
}

// NewPolicyGuard creates the default admin guard
func NewPolicyGuard(repo AdminStore) *PolicyGuard {
	return &PolicyGuard{repo: repo}
}

// AssertAdminRole verifies the caller may perform an admin action for
// the company
func (g *PolicyGuard) AssertAdminRole(ctx context.Context, q database.Querier, creds Credentials, action string, companyID uuid.UUID) error {
	switch creds.Scope {
	case ledger.ScopeSuperadmin:
		return nil
	case ledger.ScopeAdmin:
		if creds.AdminID == nil {
			return newForbiddenError("admin credentials are missing an admin id")
		}
		ok, err := g.repo.IsCompanyAdmin(ctx, q, *creds.AdminID, companyID)
		if err != nil {
			return err
		}
		if !ok {
			return newForbiddenError(
				fmt.Sprintf("admin %s may not %s for company %s", creds.AdminID, action, companyID))
		}
		return nil
	}
	return newForbiddenError(fmt.Sprintf("scope %q may not %s", creds.Scope, action))
}

// Repository implements AdminStore over the company_admins table
type Repository struct{}

// NewRepository creates a new auth repository
func NewRepository() *Repository {
	return &Repository{}
}

// IsCompanyAdmin reports whether the admin administers the company
func (r *Repository) IsCompanyAdmin(ctx context.Context, q database.Querier, adminID, companyID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM company_admins
			WHERE admin_id = $1 AND transport_company_id = $2
		)
	`
	var ok bool
	err := q.QueryRow(ctx, query, adminID, companyID).Scan(&ok)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}
