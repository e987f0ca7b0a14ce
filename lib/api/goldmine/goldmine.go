// Package goldmine implements the ledger service resources used by the message bus: contracts, connectors and
// contract execution.
package goldmine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tarancss/prvd/lib/api"
	"github.com/tarancss/prvd/lib/types"
)

// DefaultHost is the public ledger service.
const DefaultHost = "goldmine.provide.services"

// Goldmine is a client of the ledger service.
type Goldmine struct {
	c api.ResourceAPI
}

// New returns a ledger client on top of c.
func New(c api.ResourceAPI) *Goldmine {
	return &Goldmine{c: c}
}

// FetchContracts lists the contracts matching params (ie. application_id). The list is nil when the status is not
// 200.
func (g *Goldmine) FetchContracts(ctx context.Context, params url.Values) (int, []types.Contract, error) {
	var l []types.Contract
	status, err := g.get(ctx, "contracts", params, &l)
	return status, l, err
}

// FetchContractDetails returns the contract identified by id.
func (g *Goldmine) FetchContractDetails(ctx context.Context, id string) (int, *types.Contract, error) {
	var c types.Contract
	status, err := g.get(ctx, "contracts/"+url.PathEscape(id), nil, &c)
	if err != nil || status != http.StatusOK {
		return status, nil, err
	}
	return status, &c, nil
}

// FetchConnectors lists the connectors matching params (ie. application_id). The list is nil when the status is
// not 200.
func (g *Goldmine) FetchConnectors(ctx context.Context, params url.Values) (int, []types.Connector, error) {
	var l []types.Connector
	status, err := g.get(ctx, "connectors", params, &l)
	return status, l, err
}

// FetchConnectorDetails returns the connector identified by id.
func (g *Goldmine) FetchConnectorDetails(ctx context.Context, id string) (int, *types.Connector, error) {
	var c types.Connector
	status, err := g.get(ctx, "connectors/"+url.PathEscape(id), nil, &c)
	if err != nil || status != http.StatusOK {
		return status, nil, err
	}
	return status, &c, nil
}

// ExecuteContract invokes a contract method. Execution is asynchronous: 202 means the transaction was queued.
func (g *Goldmine) ExecuteContract(ctx context.Context, id string, req types.ExecuteRequest) (int, error) {
	res, err := g.c.Post(ctx, "contracts/"+url.PathEscape(id)+"/execute", req)
	if err != nil {
		return 0, err
	}
	return res.Status, nil
}

// get decodes a 200 response into v.
func (g *Goldmine) get(ctx context.Context, uri string, params url.Values, v interface{}) (int, error) {
	res, err := g.c.Get(ctx, uri, params)
	if err != nil {
		return 0, err
	}
	if res.Status != http.StatusOK {
		return res.Status, nil
	}
	if err = res.Decode(v); err != nil {
		return res.Status, fmt.Errorf("%s: %w", uri, err)
	}
	return res.Status, nil
}
