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

package errors

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorType string

func (s ErrorType) String() string {
	return strings.ToLower(string(s))
}

const (
	ErrInternalError   ErrorType = "Internal Error"
	ErrNotFound        ErrorType = "Not Found"
	ErrInvalidArgument ErrorType = "Invalid Argument"
	ErrFailedPrecond   ErrorType = "Failed Precondition"
)

const EntityJob = "job"

type DomainError struct {
	ErrorType  ErrorType
	Entity     string
	Message    string
	WrappedErr error
}

func NewError(errType ErrorType, entity string, msg string) *DomainError {
	return &DomainError{ErrorType: errType, Entity: entity, Message: msg}
}

func NewInternalError(entity string, msg string, err error) *DomainError {
	return &DomainError{ErrorType: ErrInternalError, Entity: entity, Message: msg, WrappedErr: err}
}

func NewInvalidArgumentError(entity string, msg string) *DomainError {
	return &DomainError{ErrorType: ErrInvalidArgument, Entity: entity, Message: msg}
}

func NewNotFoundError(entity string, msg string) *DomainError {
	return &DomainError{ErrorType: ErrNotFound, Entity: entity, Message: msg}
}

func NewFailedPreconditionError(entity string, msg string, err error) *DomainError {
	return &DomainError{ErrorType: ErrFailedPrecond, Entity: entity, Message: msg, WrappedErr: err}
}

// NewSubmissionError reports a workflow that could not be launched. The caller
// sent a job that cannot run, so it is classified as an invalid argument.
func NewSubmissionError(entity string, msg string, err error) *DomainError {
	return &DomainError{ErrorType: ErrInvalidArgument, Entity: entity, Message: msg, WrappedErr: err}
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%v for entity %v: %v", e.ErrorType.String(), e.Entity, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.WrappedErr
}

func TypeOf(err error) ErrorType {
	var de *DomainError
	if errors.As(err, &de) {
		return de.ErrorType
	}
	return ErrInternalError
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	switch TypeOf(err) {
	case ErrInvalidArgument, ErrNotFound, ErrFailedPrecond:
		return true
	}
	return false
}

func IsNotFound(err error) bool {
	return TypeOf(err) == ErrNotFound
}
