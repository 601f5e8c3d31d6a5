// Copyright 2024 The cutout.io Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config validates and normalizes user supplied cutout job configs.
package config

import (
	"fmt"
	"math"
	"reflect"
)

const (
	KeyInputCSV = "input_csv"
	KeyXSize    = "xsize"
	KeyYSize    = "ysize"
	KeyBands    = "bands"
	KeyColorset = "colorset"
	KeyCoords   = "coords"
	KeyOutdir   = "outdir"
	KeyLogfile  = "logfile"

	ColumnRA    = "RA"
	ColumnDEC   = "DEC"
	ColumnXSize = "XSIZE"
	ColumnYSize = "YSIZE"
)

const msgIgnoreGlobalSizes = "Ignoring global cutout size parameters because per-coordinate sizes are specified."

type Result struct {
	// Config is nil when the input is rejected.
	Config   Document
	Message  string
	Warnings []string
	Err      *Error
}

func (r Result) OK() bool {
	return r.Message == ""
}

func reject(err *Error, warnings []string) Result {
	return Result{Message: err.Message, Err: err, Warnings: warnings}
}

// Process merges raw over defaults and validates the result. A non-empty
// Message means the config must not be submitted.
func Process(raw, defaults map[string]interface{}) Result {
	cfg := Document{}
	for k, v := range defaults {
		cfg[k] = v
	}
	for k, v := range raw {
		cfg[k] = v
	}

	text, _ := cfg[KeyInputCSV].(string)
	if isBlank(text) {
		return reject(newError(ErrEmptyInput, msgEmptyInput), nil)
	}
	table, err := ParseTable(text)
	if err != nil {
		return reject(newError(ErrMalformedTable, msgParseError+err.Error()), nil)
	}
	if e := validateCoordinates(table); e != nil {
		return reject(e, nil)
	}

	warnings := []string{}
	perRow, e := validateSizeColumns(table)
	if e != nil {
		return reject(e, nil)
	}
	if perRow {
		delete(cfg, KeyXSize)
		delete(cfg, KeyYSize)
		_, userX := raw[KeyXSize]
		_, userY := raw[KeyYSize]
		if userX || userY {
			warnings = append(warnings, msgIgnoreGlobalSizes)
		}
	} else {
		for _, key := range []string{KeyXSize, KeyYSize} {
			size, e := globalSize(key, cfg[key])
			if e != nil {
				return reject(e, warnings)
			}
			cfg[key] = size
		}
	}

	if bands, ok := cfg[KeyBands]; ok && bands != nil {
		if _, isString := bands.(string); !isString {
			return reject(newError(ErrInvalidParameter, "bands must be a string"), warnings)
		}
	}

	cfg[KeyCoords] = table.CSV()
	return Result{Config: cfg, Warnings: warnings}
}

func validateCoordinates(table *Table) *Error {
	ra, hasRA := table.Column(ColumnRA)
	dec, hasDEC := table.Column(ColumnDEC)
	if !hasRA || !hasDEC || countNonBlank(ra) == 0 || countNonBlank(dec) == 0 {
		return newError(ErrMalformedTable, msgMissingRADEC)
	}
	if countNonBlank(ra) != countNonBlank(dec) {
		return newError(ErrMalformedTable, msgUnequalRADEC)
	}
	for _, cell := range append(append([]string{}, ra...), dec...) {
		v, ok := parseNumber(cell)
		if !ok || math.IsNaN(v) {
			return newError(ErrMalformedTable, msgNonNumericRADEC)
		}
	}
	return nil
}

// validateSizeColumns reports whether the table carries a complete per-row
// size specification.
func validateSizeColumns(table *Table) (bool, *Error) {
	xs, hasX := table.Column(ColumnXSize)
	ys, hasY := table.Column(ColumnYSize)
	switch {
	case !hasX && !hasY:
		return false, nil
	case hasX != hasY:
		return false, newError(ErrPartialSizeSpec, msgOnlyOneSizeSpec)
	}
	for i := range xs {
		if (xs[i] == "") != (ys[i] == "") {
			return false, newError(ErrPartialSizeSpec, msgOnlyOneSizeSpec)
		}
	}
	for _, cell := range append(append([]string{}, xs...), ys...) {
		v, ok := parseNumber(cell)
		switch {
		case !ok:
			return false, newError(ErrInvalidSize, msgNonNumericSize)
		case math.IsNaN(v):
			return false, newError(ErrInvalidSize, msgNaNSize)
		case v <= 0:
			return false, newError(ErrInvalidSize, msgNonPositiveSize)
		}
	}
	return true, nil
}

func globalSize(key string, value interface{}) (int, *Error) {
	size, ok := toInt(value)
	if !ok {
		return 0, newError(ErrInvalidSize, fmt.Sprintf("%s must be an integer", key))
	}
	if size <= 0 {
		return 0, newError(ErrInvalidSize, fmt.Sprintf("%s must be greater than zero", key))
	}
	return size, nil
}

// toInt accepts any integer kind and floats without a fractional part, the
// latter being what JSON decoding produces. Values out of the int range are
// rejected.
func toInt(value interface{}) (int, bool) {
	if value == nil {
		return 0, false
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v := rv.Int()
		if v > math.MaxInt || v < math.MinInt {
			return 0, false
		}
		return int(v), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v := rv.Uint()
		if v > math.MaxInt {
			return 0, false
		}
		return int(v), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, false
		}
		// -MinInt is a power of two, exact as a float64
		if f < math.MinInt || f >= -float64(math.MinInt) {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
