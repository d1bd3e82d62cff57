// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package delegation

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/matrixd/fault"
)

const (
	wellKnownTimeout = 10 * time.Second
	wellKnownLimit   = 65536 // maximum response body
)

// an SRV resolution pins addresses and a port for a host name while
// TLS verification keeps using the name itself
type override struct {
	addresses []net.IP
	port      string
}

// globals for this module
type delegationData struct {
	sync.RWMutex

	log    *logger.L
	client *http.Client

	overrides map[string]override

	initialised bool
}

var globalData = delegationData{
	overrides: map[string]override{},
}

// indirection points for tests
var (
	fetchWellKnown = requestWellKnown
	querySrv       = srvLookup
	resolveIPs     = net.LookupIP
)

// Initialise - setup the resolver
func Initialise() error {
	globalData.Lock()
	defer globalData.Unlock()

	if globalData.initialised {
		return fault.AlreadyInitialised
	}

	globalData.log = logger.New("delegation")
	globalData.log.Info("starting…")

	globalData.client = &http.Client{
		Timeout: wellKnownTimeout,
	}

	globalData.initialised = true
	return nil
}

// Finalise - stop all background tasks
func Finalise() error {
	if !globalData.initialised {
		return fault.NotInitialised
	}

	globalData.log.Info("shutting down…")
	globalData.log.Flush()

	globalData.Lock()
	globalData.overrides = map[string]override{}
	globalData.initialised = false
	globalData.Unlock()

	return nil
}

// Resolve - turn a server name into a dialable destination
//
// resolution order: IP literal, explicit port, well-known
// delegation, DNS SRV record, bare host on the default port.  The
// second result carries the name TLS certificates are checked
// against, which may differ from the dialled address after SRV
func Resolve(serverName string) (Destination, Destination) {
	if dest, ok := ipWithPort(serverName); ok {
		return dest, dest
	}
	if dest, ok := namedWithPort(serverName); ok {
		return dest, dest
	}

	hostname := serverName
	forcePort := ""
	var actual Destination

	delegated, ok := fetchWellKnown(serverName)
	if ok {
		hostname = delegated
		if dest, ok := ipWithPort(delegated); ok {
			actual = dest
		} else if dest, ok := namedWithPort(delegated); ok {
			hostname = dest.Host
			forcePort = dest.Port
			actual = dest
		} else {
			actual, forcePort = srvDestination(delegated)
		}
	} else {
		actual, forcePort = srvDestination(serverName)
	}

	tlsName := addDefaultPort(hostname)
	if "" != forcePort {
		tlsName.Port = forcePort
	}
	return actual, tlsName
}

// Override - pinned addresses and port for a host name
func Override(hostname string) ([]net.IP, string, bool) {
	globalData.RLock()
	defer globalData.RUnlock()
	entry, ok := globalData.overrides[hostname]
	if !ok {
		return nil, "", false
	}
	return entry.addresses, entry.port, true
}

func setOverride(hostname string, addresses []net.IP, port string) {
	globalData.Lock()
	globalData.overrides[hostname] = override{
		addresses: addresses,
		port:      port,
	}
	globalData.Unlock()
}

// consult the SRV record for a host, pinning its target addresses
func srvDestination(hostname string) (Destination, string) {
	log := globalData.log

	target, port, ok := querySrv(hostname)
	if !ok {
		return addDefaultPort(hostname), ""
	}

	addresses, err := resolveIPs(target)
	if nil != err || 0 == len(addresses) {
		if nil != log {
			log.Warnf("SRV target: %q unresolvable: %v", target, err)
		}
		return addDefaultPort(hostname), ""
	}

	forcePort := ":" + strconv.FormatUint(uint64(port), 10)
	setOverride(hostname, addresses, forcePort)

	if nil != log {
		log.Infof("SRV: %q → %q%s", hostname, target, forcePort)
	}

	return Destination{
		Host: hostname,
		Port: forcePort,
	}, forcePort
}
