// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"encoding/json"
	"flag"
	"fmt"
	"slices"
	"strings"

	"github.com/koaning/thinc/pkg/support/fsutil"
	"github.com/koaning/thinc/pkg/support/params"
	"github.com/koaning/thinc/pkg/support/xslices"
	"github.com/pkg/errors"
)

// ParseParamsSettings from settings -- typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "param1=value1;param2=value2;...".
//
// All the parameters "param1", "param2", etc. must be already set with default values
// in `p`. The default values are also used to set the type to which the
// string values will be parsed to.
//
// It updates `p` accordingly and returns the list of parameters set, or an error in case a
// parameter is unknown or the parsing failed.
//
// An entry "file:<path>" reads the settings from a file, one or more per line, and lines starting
// with "#" are comments.
//
// For integer types, "_" is removed: it allows one to enter large numbers using it as a separator, like
// in Go. E.g.: 1_000_000 = 1000000.
//
// Example usage:
//
//	func main() {
//		hyperParams := params.New("optimizer", "adam", "learning_rate", 0.001)
//		settings := commandline.CreateParamsSettingsFlag(hyperParams, "")
//		flag.Parse()
//		paramsSet := must.M1(commandline.ParseParamsSettings(hyperParams, *settings))
//		fmt.Println(commandline.SprintModifiedParamsSettings(hyperParams, paramsSet))
//		...
//	}
func ParseParamsSettings(p params.Params, settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseParamsSetting(p, setting, paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func parseParamsSetting(p params.Params, setting string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return
	}
	if filePath, found := strings.CutPrefix(setting, "file:"); found {
		var lines []string
		lines, err = fsutil.ReadLines(filePath)
		if err != nil {
			err = errors.WithMessage(err, "failed to read settings from file")
			return
		}
		for _, line := range lines {
			for _, lineSetting := range strings.Split(line, ";") {
				newParamsSet, err = parseParamsSetting(p, lineSetting, newParamsSet)
				if err != nil {
					return
				}
			}
		}
		return
	}

	paramName, valueStr, found := strings.Cut(setting, "=")
	if !found || strings.Contains(valueStr, "=") {
		err = errors.Errorf("can't parse setting %q: each setting requires the format \"<param>=<value>\"", setting)
		return
	}
	paramName = strings.TrimSpace(paramName)
	value, found := p.Get(paramName)
	if !found {
		err = errors.Errorf("can't set parameter %q because it is not known, known parameters are %q", paramName, p.Keys())
		return
	}
	value, err = parseValueLike(value, valueStr)
	if err != nil {
		err = errors.Wrapf(err, "failed to parse value %q for parameter %q (default value is %#v)", valueStr, paramName, value)
		return
	}
	p.Set(paramName, value)
	newParamsSet = append(newParamsSet, paramName)
	return
}

// parseValueLike parses valueStr into the same type as defaultValue.
func parseValueLike(defaultValue any, valueStr string) (value any, err error) {
	switch v := defaultValue.(type) {
	case int:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case int64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case float64:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case float32:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case bool:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case string:
		value = valueStr
	case []string:
		value = strings.Split(valueStr, ",")
	case []int:
		value = xslices.Map(strings.Split(valueStr, ","), func(str string) int {
			var asInt int
			if newErr := json.Unmarshal([]byte(strings.ReplaceAll(str, "_", "")), &asInt); newErr != nil {
				err = newErr
			}
			return asInt
		})
	case []float64:
		value = xslices.Map(strings.Split(valueStr, ","), func(str string) float64 {
			var asNum float64
			if newErr := json.Unmarshal([]byte(str), &asNum); newErr != nil {
				err = newErr
			}
			return asNum
		})
	default:
		err = errors.Errorf("don't know how to parse type %T", defaultValue)
	}
	if err != nil {
		return defaultValue, err
	}
	return value, nil
}

// CreateParamsSettingsFlag create a string flag with the given flagName (if empty it will be named
// "set") and with a description of the current defined parameters in `p`.
//
// The flag should be created before the call to `flags.Parse()`. See example in ParseParamsSettings.
func CreateParamsSettingsFlag(p params.Params, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{
		`Set hyperparameters. ` +
			`It should be a list of elements "param=value" separated by ";". ` +
			`It can also be given an entry like: "file:settings_file.txt", in ` +
			`which case the file will be read and the settings will be parsed, ` +
			`with new-lines working as ";" to separate settings and lines starting with "#" are considered comments. ` +
			`Current available parameters that can be set:`,
	}
	for _, key := range p.Keys() {
		value, _ := p.Get(key)
		parts = append(parts, fmt.Sprintf("%q: default value is %v", key, value))
	}
	var settings string
	flag.StringVar(&settings, flagName, "", strings.Join(parts, "\n"))
	return &settings
}

// SprintParamsSettings pretty-print values for the current hyperparameters settings into a string.
func SprintParamsSettings(p params.Params) string {
	var parts []string
	for _, key := range p.Keys() {
		value, _ := p.Get(key)
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", key, value, value))
	}
	return strings.Join(parts, "\n")
}

// SprintModifiedParamsSettings pretty-print values of the hyperparameters in paramsSet (as returned by
// ParseParamsSettings), sorted and without duplicates.
func SprintModifiedParamsSettings(p params.Params, paramsSet []string) string {
	paramsSet = slices.Clone(paramsSet)
	slices.Sort(paramsSet)
	paramsSet = slices.Compact(paramsSet)
	var parts []string
	for _, key := range paramsSet {
		value, found := p.Get(key)
		if !found {
			continue
		}
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", key, value, value))
	}
	return strings.Join(parts, "\n")
}
