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

package chirp

import (
	"net"

	"github.com/jsimonetti/rtnetlink/rtnl"
)

// interfacesViaNetlink enumerates interfaces through a netlink socket
// rather than the /proc-backed net.Interfaces(), the way
// responder/server/ip.go manages interface addresses in the teacher
// codebase. Any failure (e.g. non-Linux platforms, no CAP_NET_ADMIN)
// is swallowed by the caller, which falls back to net.Interfaces().
func interfacesViaNetlink() ([]net.Interface, error) {
	conn, err := rtnl.Dial(nil)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	links, err := conn.Links()
	if err != nil {
		return nil, err
	}

	out := make([]net.Interface, 0, len(links))
	for _, l := range links {
		out = append(out, l.Interface)
	}
	return out, nil
}
