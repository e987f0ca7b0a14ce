// Package types common message bus types.
package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Type tags used when resolving a message bus topology.
const (
	ApplicationTypeMessageBus = "message_bus"
	ContractTypeRegistry      = "registry"
	ConnectorTypeIPFS         = "ipfs"
	ContractMethodPublish     = "publish"
)

// ID is a resource identifier. The APIs return them as strings but numeric ids are accepted too.
type ID string

// UnmarshalJSON accepts both JSON strings and numbers.
func (id *ID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return ErrBadID
	}
	*id = ID(n.String())
	return nil
}

// Application is an identity service application. Config carries the application type tag.
type Application struct {
	ID     ID                     `json:"id"`
	Name   string                 `json:"name,omitempty"`
	Config map[string]interface{} `json:"config"`
}

// Type returns the application type tag found at config.type.
func (a *Application) Type() string {
	return tag(a.Config, "type")
}

// Contract is an on-chain contract known to the ledger service. Params carries the contract type tag.
type Contract struct {
	ID            ID                     `json:"id"`
	ApplicationID ID                     `json:"application_id,omitempty"`
	NetworkID     ID                     `json:"network_id,omitempty"`
	Name          string                 `json:"name,omitempty"`
	Address       string                 `json:"address"`
	Params        map[string]interface{} `json:"params"`
}

// Type returns the contract type tag found at params.type.
func (c *Contract) Type() string {
	return tag(c.Params, "type")
}

// Connector describes how to reach a distributed filesystem node.
type Connector struct {
	ID            ID                     `json:"id"`
	ApplicationID ID                     `json:"application_id,omitempty"`
	NetworkID     ID                     `json:"network_id,omitempty"`
	Name          string                 `json:"name,omitempty"`
	Type          string                 `json:"type"`
	Config        map[string]interface{} `json:"config"`
}

// APIURL returns the connector api_url or an empty string when not configured.
func (c *Connector) APIURL() string {
	return tag(c.Config, "api_url")
}

// Topology is the resolved state of a message bus. A nil slot means not found.
type Topology struct {
	Application *Application `json:"application"`
	Contract    *Contract    `json:"contract"`
	Connector   *Connector   `json:"connector"`
}

// ExecuteRequest is the body sent to execute a contract method.
type ExecuteRequest struct {
	Method        string        `json:"method"`
	Params        []interface{} `json:"params"`
	Value         uint64        `json:"value"`
	WalletAddress string        `json:"wallet_address"`
}

// Outcome reports a publish attempt once the message reached storage. Accepted is true when the registry
// invocation was queued; otherwise Err explains why it was not.
type Outcome struct {
	Subject  string `json:"subject"`
	Hash     string `json:"hash"`
	Status   int    `json:"status"`
	Accepted bool   `json:"accepted"`
	Err      error  `json:"-"`
}

// Published is the event emitted to notifiers after an accepted publish.
type Published struct {
	Subject  string    `json:"subject"`
	Hash     string    `json:"hash"`
	Contract string    `json:"contract"`
	Address  string    `json:"address"`
	Wallet   string    `json:"wallet"`
	Status   int       `json:"status"`
	TS       time.Time `json:"ts"`
}

func tag(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Error codes.
var (
	ErrBadID                 = errors.New("resource id is neither a string nor a number")
	ErrMalformedCredential   = errors.New("malformed credential")
	ErrApplicationUnresolved = errors.New("message bus application unresolved")
	ErrRegistryUnresolved    = errors.New("on-chain registry contract unresolved")
	ErrConnectorUnresolved   = errors.New("distributed filesystem connector unresolved")
	ErrMultiaddrUnresolved   = errors.New("connector multiaddr unresolved")
	ErrRegistryUnavailable   = errors.New("unable to publish message without resolution of an on-chain registry contract")
	ErrStorageUnavailable    = errors.New("unable to publish message without a distributed filesystem session")
	ErrPublishNotAccepted    = errors.New("publish not accepted by registry contract")
)
