// Package ident implements the identity service resources used by the message bus.
package ident

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tarancss/prvd/lib/api"
	"github.com/tarancss/prvd/lib/types"
)

// DefaultHost is the public identity service.
const DefaultHost = "ident.provide.services"

// Ident is a client of the identity service.
type Ident struct {
	c api.ResourceAPI
}

// New returns an identity client on top of c.
func New(c api.ResourceAPI) *Ident {
	return &Ident{c: c}
}

// FetchApplicationDetails returns the application with the given id. The application is nil when the status is not
// 200.
func (i *Ident) FetchApplicationDetails(ctx context.Context, appID string) (int, *types.Application, error) {
	res, err := i.c.Get(ctx, "applications/"+url.PathEscape(appID), nil)
	if err != nil {
		return 0, nil, err
	}
	if res.Status != http.StatusOK {
		return res.Status, nil, nil
	}

	var app types.Application
	if err = res.Decode(&app); err != nil {
		return res.Status, nil, fmt.Errorf("application %s: %w", appID, err)
	}
	return res.Status, &app, nil
}
