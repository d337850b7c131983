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

// Package identity derives the deterministic identifiers used across
// CHIRP, CSCP and CMDP: the canonical satellite name and the MD5-backed
// UUIDs of a host and a Constellation group.
package identity

import (
	"crypto/md5" //nolint:gosec // not used for security, only to derive a stable 128-bit identifier
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	typeRE     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	instanceRE = regexp.MustCompile(`^\w+$`)
)

// UUID derives the identifier for an arbitrary UTF-8 name.
//
// The original Constellation implementation names this "uuid5" but in
// fact never stamps the RFC 4122 version/variant bits: it installs the
// raw 16-byte MD5 digest of the name directly as the UUID value. We
// reproduce that exactly (rather than using uuid.NewMD5, which does
// stamp those bits) so that identifiers stay bit-for-bit identical to
// any other Constellation implementation sharing a multicast domain.
func UUID(name string) uuid.UUID {
	digest := md5.Sum([]byte(name)) //nolint:gosec
	var id uuid.UUID
	copy(id[:], digest[:])
	return id
}

// CanonicalName is a validated "<Type>.<Instance>" satellite identifier.
type CanonicalName struct {
	Type     string
	Instance string
}

// ParseCanonicalName validates and splits a canonical name of the form
// "<Type>.<Instance>", where Type matches [A-Za-z_][A-Za-z0-9_]* and
// Instance matches \w+.
func ParseCanonicalName(name string) (CanonicalName, error) {
	idx := strings.IndexByte(name, '.')
	if idx < 0 {
		return CanonicalName{}, fmt.Errorf("canonical name %q missing '.' separator", name)
	}
	typ, instance := name[:idx], name[idx+1:]
	if !typeRE.MatchString(typ) {
		return CanonicalName{}, fmt.Errorf("canonical name %q has invalid type component %q", name, typ)
	}
	if !instanceRE.MatchString(instance) {
		return CanonicalName{}, fmt.Errorf("canonical name %q has invalid instance component %q", name, instance)
	}
	return CanonicalName{Type: typ, Instance: instance}, nil
}

// String reassembles "<Type>.<Instance>".
func (c CanonicalName) String() string {
	return c.Type + "." + c.Instance
}

// HostUUID derives the host identifier for a canonical satellite name.
func HostUUID(canonicalName string) uuid.UUID {
	return UUID(canonicalName)
}

// GroupUUID derives the group identifier for a Constellation group name.
func GroupUUID(group string) uuid.UUID {
	return UUID(group)
}
