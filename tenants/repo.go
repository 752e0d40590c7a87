package tenants

import (
	apperrors "github.com/collabverse/authbridge/internal/errors"
)

type Repo interface {
	Upsert(tenantData *Tenant) error
	Delete(tenantID string) error
	Get(tenantID string) (*Tenant, error)
	List(offset, limit int) ([]*Tenant, error)
}

// Resolution is the {tenant, customer, app} triple every authenticated
// request starts from.
type Resolution struct {
	Tenant   *Tenant
	Customer *Customer
	App      *MashupApp
}

// Resolve looks up the tenant and walks down to the customer and mashup app.
// A missing customer or app is a not-found error carrying the selector that
// failed.
func Resolve(repo Repo, tenantID, customerID, appName string) (*Resolution, error) {
	tenant, err := repo.Get(tenantID)
	if err != nil {
		return nil, apperrors.NotFound("unknown tenant").With("tenantId", tenantID)
	}

	customer, ok := tenant.Customer(customerID)
	if !ok {
		return nil, apperrors.NotFound("unknown customer").
			With("tenantId", tenantID).
			With("customerId", customerID)
	}

	app, ok := customer.App(appName)
	if !ok {
		return nil, apperrors.NotFound("unknown app").
			With("tenantId", tenantID).
			With("customerId", customerID).
			With("appName", appName)
	}

	return &Resolution{Tenant: tenant, Customer: customer, App: app}, nil
}
