// Package prvd and its sub-packages implement a message bus client over the identity and ledger REST services of the
// platform.
/*
A message bus application stores every message in a distributed filesystem (IPFS) and records its content hash in an
on-chain registry contract, making the contract the durable, ordered log of the bus.

Architecture

The bus (package bus) is built by composition. It holds an identity capability (package lib/api/ident) and a ledger
capability (package lib/api/goldmine), both thin typed layers over a generic REST resource client (package lib/api),
plus a storage dialer (package lib/storage, implemented for IPFS by lib/storage/ipfs).

The bearer token names the application: its subject claim is decoded without verifying the signature (package
lib/credential) and the last colon-separated segment is the application id. From it the topology (package
lib/topology) is resolved in order: the application, the first contract tagged "registry" and the first connector
tagged "ipfs". Resolution is best effort and unresolved slots are left empty; they only surface when a publish checks
its preconditions.

Publishing uploads the message to the connector, then invokes the publish method of the registry contract with the
subject and content hash. A 202 reply means the invocation was queued. Any other reply is reported in the outcome and
the uploaded content is not removed.

Accepted publishes can be broadcast to a message broker (package lib/msg, implemented for AMQP by lib/msg/amqp) with
routing key "publish.<subject>".

Messagebus

The messagebus service (cmd/messagebus) loads its configuration (package lib/config) from a JSON file and PRVD_ OS ENV
variables, resolves the topology, opens a long-lived storage session and exposes the bus through an HTTP relay
(package relay). It can also publish stdin once and exit (-p) or print broker notifications (-w). The service can be
monitored via a Prometheus API by setting the flag "-m" at startup.
*/
package prvd
