// Package errors provides standard error kinds for netcfg.
//
// These sentinel errors allow callers to check for specific error conditions
// using errors.Is(), enabling programmatic error handling. The control protocol
// maps each kind to the message returned to the caller.
package errors

import "errors"

// Control protocol errors
var (
	// ErrMalformedRequest indicates a control message could not be decoded or lacks a required field.
	ErrMalformedRequest = errors.New("malformed message")

	// ErrUnknownMethod indicates a control message names a method the daemon does not implement.
	ErrUnknownMethod = errors.New("unknown method")
)

// Configuration store errors
var (
	// ErrUnknownNetworkType indicates no network implementation is registered for the requested type.
	ErrUnknownNetworkType = errors.New("unknown network type")

	// ErrNetworkNotFound indicates the specified network does not exist.
	ErrNetworkNotFound = errors.New("network not found")

	// ErrContainerNotFound indicates the specified container has no recorded configuration.
	ErrContainerNotFound = errors.New("container not found")

	// ErrNotAttached indicates the container is not attached to the network.
	ErrNotAttached = errors.New("container is not attached to network")
)

// Network errors
var (
	// ErrNetworkConfiguration indicates an attachment or network configuration failed validation.
	ErrNetworkConfiguration = errors.New("network configuration error")

	// ErrProvisioningStep indicates one step of host resource provisioning failed.
	ErrProvisioningStep = errors.New("provisioning step failed")
)

// Collaborator errors
var (
	// ErrRuntimeQuery indicates the container runtime could not be queried.
	ErrRuntimeQuery = errors.New("container runtime query failed")

	// ErrEventStream indicates the container runtime event stream failed.
	ErrEventStream = errors.New("container runtime event stream failed")

	// ErrPersistence indicates the configuration document could not be written.
	ErrPersistence = errors.New("persisting configuration failed")
)
