// Package topology resolves the operational topology of a message bus application: the application itself, the
// on-chain registry contract acting as its durable log and the distributed filesystem connector storing messages.
//
// Resolution is best effort. Each slot is resolved in order (application, contract, connector) and a slot that cannot
// be resolved is left nil without aborting the others. Contracts and connectors are selected by a single scan in the
// order returned by the ledger: the first candidate with the expected type tag wins and later ones are not considered.
// An application with several registry contracts or connectors therefore depends on the listing order, which is not
// guaranteed to be stable across pages.
package topology

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/tarancss/prvd/lib/log"
	"github.com/tarancss/prvd/lib/metrics"
	"github.com/tarancss/prvd/lib/types"
)

// Applications is the identity capability required to resolve the application.
type Applications interface {
	FetchApplicationDetails(ctx context.Context, appID string) (int, *types.Application, error)
}

// Ledger is the ledger capability required to resolve contracts and connectors.
type Ledger interface {
	FetchContracts(ctx context.Context, params url.Values) (int, []types.Contract, error)
	FetchContractDetails(ctx context.Context, id string) (int, *types.Contract, error)
	FetchConnectors(ctx context.Context, params url.Values) (int, []types.Connector, error)
	FetchConnectorDetails(ctx context.Context, id string) (int, *types.Connector, error)
}

// Resolver resolves topologies against the identity and ledger services.
type Resolver struct {
	apps   Applications
	ledger Ledger
	log    zerolog.Logger
}

// New returns a resolver using the given services.
func New(apps Applications, ledger Ledger) *Resolver {
	return &Resolver{apps: apps, ledger: ledger, log: log.WithComponent("topology")}
}

// Resolve resolves the application, registry contract and connector of appID, in that order. It never fails: slots
// that cannot be resolved are nil and the reason is logged.
func (r *Resolver) Resolve(ctx context.Context, appID string) types.Topology {
	var t types.Topology
	var err error

	if t.Application, err = r.ResolveApplication(ctx, appID); err != nil {
		r.log.Warn().Err(err).Str("application_id", appID).Msg("failed to resolve message bus application")
	}
	metrics.Resolution(metrics.SlotApplication, t.Application != nil)

	if t.Contract, err = r.ResolveRegistryContract(ctx, appID); err != nil {
		r.log.Warn().Err(err).Str("application_id", appID).Msg("failed to resolve on-chain registry contract")
	}
	metrics.Resolution(metrics.SlotContract, t.Contract != nil)

	if t.Connector, err = r.ResolveConnector(ctx, appID); err != nil {
		r.log.Warn().Err(err).Str("application_id", appID).Msg("failed to resolve distributed filesystem connector")
	}
	metrics.Resolution(metrics.SlotConnector, t.Connector != nil)

	return t
}

// ResolveApplication returns the application if it exists and is a message bus, or an error wrapping
// types.ErrApplicationUnresolved otherwise.
func (r *Resolver) ResolveApplication(ctx context.Context, appID string) (*types.Application, error) {
	r.log.Info().Str("application_id", appID).Msg("resolving message bus application")

	status, app, err := r.apps.FetchApplicationDetails(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrApplicationUnresolved, err)
	}
	if status != http.StatusOK || app == nil {
		return nil, fmt.Errorf("%w: status %d", types.ErrApplicationUnresolved, status)
	}
	if app.Type() != types.ApplicationTypeMessageBus {
		return nil, fmt.Errorf("%w: application type %q", types.ErrApplicationUnresolved, app.Type())
	}

	r.log.Info().Str("application_id", appID).Msg("resolved message bus application")
	return app, nil
}

// ResolveRegistryContract returns the first contract of appID whose params type is "registry". Candidates whose
// details cannot be fetched are skipped. An error wrapping types.ErrRegistryUnresolved is returned when the listing
// fails or no candidate matches.
func (r *Resolver) ResolveRegistryContract(ctx context.Context, appID string) (*types.Contract, error) {
	r.log.Info().Str("application_id", appID).Msg("resolving on-chain registry contract for message bus")

	status, list, err := r.ledger.FetchContracts(ctx, url.Values{"application_id": {appID}})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrRegistryUnresolved, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: listing status %d", types.ErrRegistryUnresolved, status)
	}

	for _, item := range list {
		st, c, err := r.ledger.FetchContractDetails(ctx, string(item.ID))
		if err != nil || st != http.StatusOK || c == nil {
			r.log.Warn().Err(err).Int("status", st).Str("contract_id", string(item.ID)).
				Msg("failed to fetch contract details")
			continue
		}
		if c.Type() == types.ContractTypeRegistry {
			r.log.Info().Str("application_id", appID).Str("address", c.Address).
				Msg("resolved on-chain registry contract")
			return c, nil
		}
		r.log.Debug().Str("contract_id", string(item.ID)).Str("type", c.Type()).Msg("skipping contract")
	}
	return nil, fmt.Errorf("%w: no registry among %d contracts", types.ErrRegistryUnresolved, len(list))
}

// ResolveConnector returns the first connector of appID whose type is "ipfs". Candidates whose details cannot be
// fetched are skipped. An error wrapping types.ErrConnectorUnresolved is returned when the listing fails or no
// candidate matches.
func (r *Resolver) ResolveConnector(ctx context.Context, appID string) (*types.Connector, error) {
	r.log.Info().Str("application_id", appID).Msg("resolving distributed filesystem connector for message bus")

	status, list, err := r.ledger.FetchConnectors(ctx, url.Values{"application_id": {appID}})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConnectorUnresolved, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: listing status %d", types.ErrConnectorUnresolved, status)
	}

	for _, item := range list {
		st, c, err := r.ledger.FetchConnectorDetails(ctx, string(item.ID))
		if err != nil || st != http.StatusOK || c == nil {
			r.log.Warn().Err(err).Int("status", st).Str("connector_id", string(item.ID)).
				Msg("failed to fetch connector details")
			continue
		}
		if c.Type == types.ConnectorTypeIPFS {
			r.log.Info().Str("application_id", appID).Str("type", c.Type).
				Msg("resolved distributed filesystem connector")
			return c, nil
		}
		r.log.Debug().Str("connector_id", string(item.ID)).Str("type", c.Type).Msg("skipping connector")
	}
	return nil, fmt.Errorf("%w: no %s connector among %d", types.ErrConnectorUnresolved, types.ConnectorTypeIPFS,
		len(list))
}
