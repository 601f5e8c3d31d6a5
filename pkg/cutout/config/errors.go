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

package config

type ErrorKind string

const (
	ErrEmptyInput       ErrorKind = "EmptyInput"
	ErrMalformedTable   ErrorKind = "MalformedTable"
	ErrPartialSizeSpec  ErrorKind = "PartialSizeSpec"
	ErrInvalidSize      ErrorKind = "InvalidSize"
	ErrInvalidParameter ErrorKind = "InvalidParameter"
)

// Error is a defect in the config supplied by the user. Message is shown to
// the user as is.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

const sizeSpecPrefix = "Invalid cutout size specification in coordinate table: "

const (
	msgEmptyInput       = "Coordinate table cannot be empty"
	msgParseError       = "Coordinate table parsing error: "
	msgMissingRADEC     = "Coordinate table must have one or more RA and DEC values"
	msgUnequalRADEC     = "Coordinate table must have the same number of RA and DEC values"
	msgNonNumericRADEC = "Coordinate table RA and DEC values must be numeric values"

	msgOnlyOneSizeSpec = sizeSpecPrefix + "only one size spec"
	msgNonNumericSize  = sizeSpecPrefix + "Non-numeric value"
	msgNaNSize         = sizeSpecPrefix + "NaN detected"
	msgNonPositiveSize = sizeSpecPrefix + "Value must be greater than zero"
)
