// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, and not very fast, but very portable backend.
//
// Operations are executed eagerly on float32 tensors stored in Go slices. Matrix multiplication and
// vector updates use gonum's blas32.
//
// The configuration string is a comma separated list of "key=value" options:
//
//   - "seed=<int>": seeds the random number generator used by Dropout, for reproducible runs.
//   - "parallelism=<int>": soft limit on the number of goroutines used by the larger kernels.
//     0 disables parallelism, -1 makes it unlimited. The default is runtime.NumCPU().
//
// Example: backends.NewWithConfig("go:seed=42,parallelism=0")
package simplego

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/koaning/thinc/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in THINC_BACKEND to specify this backend.
const BackendName = "go"

// Registers New() as the default constructor for "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo backend, see package documentation for the configuration options.
func New(config string) (backends.Ops, error) {
	return NewBackend(config)
}

// NewBackend is like New, but returns the concrete type.
func NewBackend(config string) (*Backend, error) {
	b := &Backend{}
	b.workers.Initialize()
	seed := uint64(time.Now().UnixNano())
	if config != "" {
		for _, part := range strings.Split(config, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			key, value, found := strings.Cut(part, "=")
			if !found {
				return nil, errors.Errorf("invalid configuration option %q for SimpleGo (go) backend, expected \"key=value\"", part)
			}
			switch key {
			case "seed":
				v, err := strconv.ParseUint(value, 10, 64)
				if err != nil {
					return nil, errors.Wrapf(err, "invalid seed %q for SimpleGo (go) backend", value)
				}
				seed = v
			case "parallelism":
				v, err := strconv.Atoi(value)
				if err != nil {
					return nil, errors.Wrapf(err, "invalid parallelism %q for SimpleGo (go) backend", value)
				}
				b.workers.SetMaxParallelism(v)
				klog.V(1).Infof("SimpleGo (go) backend: parallelism set to %d", v)
			default:
				klog.Warningf("SimpleGo (go) backend: ignoring unknown configuration option %q", key)
			}
		}
	}
	b.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return b, nil
}

// Backend implements the backends.Ops interface.
type Backend struct {
	workers workersPool

	rngMu sync.Mutex
	rng   *rand.Rand

	finalized bool
}

// Compile-time check that simplego.Backend implements backends.Ops.
var _ backends.Ops = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return "SimpleGo (go)"
}

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Simple Go Portable Backend"
}

// Finalize releases all the associated resources immediately, and makes the backend invalid.
func (b *Backend) Finalize() {
	b.finalized = true
}

// MaxParallelism returns the configured soft limit on parallelism.
func (b *Backend) MaxParallelism() int {
	return b.workers.MaxParallelism()
}
