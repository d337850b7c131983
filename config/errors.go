/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import "fmt"

// MissingKeyError is returned when a requested key does not exist.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("key `%s` does not exist", e.Key)
}

// InvalidTypeError is returned when a value cannot be produced in the
// requested type.
type InvalidTypeError struct {
	Key    string
	Have   string
	Want   string
	Reason string
}

func (e *InvalidTypeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("could not convert value of type `%s` to `%s` for key `%s`: %s", e.Have, e.Want, e.Key, e.Reason)
	}
	return fmt.Sprintf("could not convert value of type `%s` to `%s` for key `%s`", e.Have, e.Want, e.Key)
}

// InvalidValueError is returned when a value has the right type but
// fails a semantic check (out of range, not a valid path, ...).
type InvalidValueError struct {
	Key    string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("value of key `%s` is not valid: %s", e.Key, e.Reason)
}

// DuplicateKeyError is returned when two keys collide after case-folding.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("key `%s` already present", e.Key)
}

// NotHomogeneousError is returned when an array's elements are not all
// the same scalar type.
type NotHomogeneousError struct {
	Key string
}

func (e *NotHomogeneousError) Error() string {
	return fmt.Sprintf("array value of key `%s` not homogeneous", e.Key)
}

// NotScalarError is returned when a value (or array element) is
// neither a scalar, an array of scalars, nor a nested section.
type NotScalarError struct {
	Key string
}

func (e *NotScalarError) Error() string {
	return fmt.Sprintf("value of key `%s` is not a scalar type", e.Key)
}

// MissingEnvVarError is returned when a "${VAR}" placeholder names an
// environment variable that is not set and carries no default.
type MissingEnvVarError struct {
	Name string
}

func (e *MissingEnvVarError) Error() string {
	return fmt.Sprintf("environment variable `%s` not defined", e.Name)
}

// UpdateError is returned by Section.Update when other's shape is
// incompatible with the receiver's.
type UpdateError struct {
	Key    string
	Reason string
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("failed to update value of key `%s`: %s", e.Key, e.Reason)
}
