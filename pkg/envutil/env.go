// Package envutil provides utilities for environment variable handling.
//
// This package centralizes the environment variables netcfg reads when
// resolving daemon and client options.
package envutil

import "os"

// Environment variable names read by netcfg.
const (
	// RootEnvVar relocates the persisted document and the namespace
	// bookkeeping directory under a single root directory.
	RootEnvVar = "NETCFG_ROOT"

	// SocketEnvVar overrides the control socket path for both the daemon
	// and the client commands.
	SocketEnvVar = "NETCFG_SOCKET"

	// DockerHostEnvVar is the standard Docker engine address variable.
	DockerHostEnvVar = "DOCKER_HOST"
)

// Getenv is the lookup function used to read the environment.
// Tests replace it with a map-backed lookup.
type Getenv func(key string) string

// Lookup returns the value of key and whether it is set to a non-empty value.
// A nil getenv reads the process environment.
func Lookup(getenv Getenv, key string) (string, bool) {
	if getenv == nil {
		getenv = os.Getenv
	}
	v := getenv(key)
	return v, v != ""
}

// FromMap returns a Getenv backed by m.
func FromMap(m map[string]string) Getenv {
	return func(key string) string {
		return m[key]
	}
}
