// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package delegation

import (
	"net"
	"strings"
)

// DefaultPort - federation port used when a server name carries none
const DefaultPort = "8448"

// Destination - a resolved network endpoint
//
// a literal destination is a textual IP address; a named destination
// still needs address resolution at dial time.  Port always carries
// a leading colon
type Destination struct {
	Literal bool
	Host    string
	Port    string
}

// Address - host:port form suitable for dialling
//
// IPv6 literals are bracketed
func (d Destination) Address() string {
	host := d.Host
	if d.Literal && strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return host + d.Port
}

// BaseURL - https URL prefix for this destination
func (d Destination) BaseURL() string {
	return "https://" + d.Address()
}

// HostHeader - value for the HTTP Host header
//
// the default port is omitted as most servers expect the bare name
func (d Destination) HostHeader() string {
	if ":"+DefaultPort == d.Port {
		return d.Host
	}
	return d.Address()
}

// ipWithPort - detect an IP literal, with or without a port
func ipWithPort(destination string) (Destination, bool) {
	if ip := net.ParseIP(destination); nil != ip {
		return Destination{
			Literal: true,
			Host:    destination,
			Port:    ":" + DefaultPort,
		}, true
	}
	host, port, err := net.SplitHostPort(destination)
	if nil == err && nil != net.ParseIP(host) {
		return Destination{
			Literal: true,
			Host:    host,
			Port:    ":" + port,
		}, true
	}
	return Destination{}, false
}

// addDefaultPort - named destination on the default federation port
func addDefaultPort(hostname string) Destination {
	return Destination{
		Host: hostname,
		Port: ":" + DefaultPort,
	}
}

// explicit port on a non-literal name, e.g. "example.com:1337"
//
// the bare IPv6 colon case is already consumed by ipWithPort
func namedWithPort(destination string) (Destination, bool) {
	pos := strings.LastIndex(destination, ":")
	if pos < 0 {
		return Destination{}, false
	}
	host := destination[:pos]
	port := destination[pos:]
	if "" == host || len(port) < 2 {
		return Destination{}, false
	}
	for _, c := range port[1:] {
		if c < '0' || c > '9' {
			return Destination{}, false
		}
	}
	return Destination{
		Host: host,
		Port: port,
	}, true
}
