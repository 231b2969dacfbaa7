// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package params holds free-form hyperparameters and model attributes, keyed by name.
//
// Values are stored as `any` and read back with GetOr, which converts between compatible types
// (an `int` is transparently read as a `float64`, for instance).
package params

import (
	"maps"
	"reflect"
	"slices"

	"github.com/gomlx/exceptions"
)

// Params maps a parameter name to its value.
type Params map[string]any

// New creates a Params from a list of key/value pairs: New("learning_rate", 0.01, "beta1", 0.9).
// It panics if the number of arguments is odd or if a key is not a string.
func New(keyValues ...any) Params {
	if len(keyValues)%2 != 0 {
		exceptions.Panicf("params.New(): odd number of arguments (%d), expected key/value pairs", len(keyValues))
	}
	p := make(Params, len(keyValues)/2)
	for ii := 0; ii < len(keyValues); ii += 2 {
		key, ok := keyValues[ii].(string)
		if !ok {
			exceptions.Panicf("params.New(): key #%d is a %T, expected a string", ii/2, keyValues[ii])
		}
		p[key] = keyValues[ii+1]
	}
	return p
}

// Set the value of key. It returns itself, so calls can be cascaded.
func (p Params) Set(key string, value any) Params {
	p[key] = value
	return p
}

// Get returns the raw value of key, and whether it was found.
func (p Params) Get(key string) (value any, found bool) {
	value, found = p[key]
	return
}

// Has returns whether the key is set to a non-nil value.
func (p Params) Has(key string) bool {
	value, found := p[key]
	return found && value != nil
}

// Keys returns the sorted list of keys.
func (p Params) Keys() []string {
	return slices.Sorted(maps.Keys(p))
}

// Clone returns a shallow copy of the params.
func (p Params) Clone() Params {
	return maps.Clone(p)
}

// GetOr either returns the value for the given key, or if the key is not found or set to nil,
// it returns the given default value.
//
// It tries to cast the value to the given type. If it fails, it tries to convert the
// value to the given type (so an `int` will be converted to a `float64` transparently).
// If that also fails, an explaining exception is thrown.
func GetOr[T any](p Params, key string, defaultValue T) T {
	valueAny, found := p[key]
	if !found || valueAny == nil {
		return defaultValue
	}
	value, ok := valueAny.(T)
	if ok {
		return value
	}
	return MustGet[T](p, key)
}

// MustGet returns the value for the given key converted to T, and panics if it is not found
// or cannot be converted.
func MustGet[T any](p Params, key string) T {
	valueAny, found := p[key]
	if !found || valueAny == nil {
		exceptions.Panicf("params.MustGet[%T](%q): parameter not set", *new(T), key)
	}
	if value, ok := valueAny.(T); ok {
		return value
	}
	typeOfT := reflect.TypeOf((*T)(nil)).Elem()
	v := reflect.ValueOf(valueAny)
	if !v.CanConvert(typeOfT) || isNumericOrBool(v.Kind()) != isNumericOrBool(typeOfT.Kind()) {
		exceptions.Panicf("params.MustGet[%s](%q): value (%T) %#v cannot be converted to %s",
			typeOfT, key, valueAny, valueAny, typeOfT)
	}
	return v.Convert(typeOfT).Interface().(T)
}

// isNumericOrBool reports whether k is a numeric or bool kind. Numbers are never converted to strings.
func isNumericOrBool(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Bool:
		return true
	}
	return false
}
