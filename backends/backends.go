// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface an array backend needs to implement to be used by the layers
// in github.com/koaning/thinc/ml/layers, and a registry of the available backends.
//
// The layers only compose and differentiate: every numerical kernel (elementwise arithmetic, reductions,
// matrix multiplication, pooling and dropout) is delegated to an Ops implementation.
//
// To simplify error handling, all Ops methods are expected to throw (panic) with a stack trace in case of errors.
// See package github.com/gomlx/exceptions. The layers convert those panics back into errors at their
// public entry points.
package backends

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Constructor takes a config string (optionally empty) and returns a backend.
type Constructor func(config string) (Ops, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List the names of the registered backends.
func List() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	return names
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific (e.g.: for the "go" backend, "seed=42,parallelism=4").
const ConfigEnvVar = "THINC_BACKEND"

// New returns a new default backend.
//
// The default is:
//
// 1. The environment THINC_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It panics if no backend was registered or if the backend fails to be constructed.
func New() Ops {
	ops, err := NewOrErr()
	if err != nil {
		panic(err)
	}
	return ops
}

// NewOrErr is like New, but returns an error instead of panicking.
func NewOrErr() (Ops, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return newWithConfig(config)
	}
	if DefaultConfig != "" {
		return newWithConfig(DefaultConfig)
	}
	return newWithConfig("")
}

// NewWithConfig takes a configurations string formated as
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific. If there is no ":" the whole config is taken as the
// backend name, or as the configuration of the first registered backend if no backend has that name.
//
// It panics in case of errors.
func NewWithConfig(config string) Ops {
	ops, err := newWithConfig(config)
	if err != nil {
		panic(err)
	}
	return ops
}

func newWithConfig(config string) (Ops, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.New(`no registered backends -- maybe import the default one with import _ "github.com/koaning/thinc/backends/default"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if _, found := registeredConstructors[config]; found {
		backendName = config
		backendConfig = ""
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given", backendName, config)
	}
	klog.V(1).Infof("creating backend %q with config %q", backendName, backendConfig)
	ops, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create backend %q", backendName)
	}
	return ops, nil
}
