// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/crypto/ed25519"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/matrixd/delegation"
	"github.com/bitmark-inc/matrixd/fault"
)

const (
	requestTimeout       = 30 * time.Second
	destinationCacheTime = time.Hour
	cacheSweepInterval   = 10 * time.Minute
)

// a resolved destination kept across requests
type cachedDestination struct {
	actual  delegation.Destination
	tlsName delegation.Destination
}

// globals for this module
type transportData struct {
	sync.RWMutex

	log *logger.L

	serverName string
	keyID      string
	privateKey ed25519.PrivateKey

	client       *http.Client
	destinations *gocache.Cache

	initialised bool
}

var globalData transportData

// Initialise - setup the dispatcher with the server's identity
func Initialise(serverName string, keyID string, privateKey ed25519.PrivateKey) error {
	globalData.Lock()
	defer globalData.Unlock()

	if globalData.initialised {
		return fault.AlreadyInitialised
	}
	if ed25519.PrivateKeySize != len(privateKey) {
		return fault.InvalidPrivateKey
	}

	globalData.log = logger.New("transport")
	globalData.log.Info("starting…")

	globalData.serverName = serverName
	globalData.keyID = keyID
	globalData.privateKey = privateKey
	globalData.destinations = gocache.New(destinationCacheTime, cacheSweepInterval)
	globalData.client = newClient()

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
	globalData.privateKey = nil
	globalData.destinations = nil
	globalData.initialised = false
	globalData.Unlock()

	return nil
}

// HTTP client whose dialer honours SRV address pinning
//
// the URL always names the delegated host, so SNI and certificate
// checks stay on that name even when the connection goes to a pinned
// address
func newClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
	}

	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network string, address string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(address)
				if nil == err {
					if addresses, pinnedPort, ok := delegation.Override(host); ok && 0 != len(addresses) {
						if "" != pinnedPort {
							port = pinnedPort[1:]
						}
						return dialer.DialContext(ctx, network, net.JoinHostPort(addresses[0].String(), port))
					}
				}
				return dialer.DialContext(ctx, network, address)
			},
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// cached destination, or a fresh resolution
//
// fresh results are only committed to the cache by the caller after
// a successful request
func lookupDestination(serverName string) (cachedDestination, bool) {
	if entry, ok := globalData.destinations.Get(serverName); ok {
		return entry.(cachedDestination), true
	}
	actual, tlsName := delegation.Resolve(serverName)
	return cachedDestination{
		actual:  actual,
		tlsName: tlsName,
	}, false
}

func commitDestination(serverName string, destination cachedDestination) {
	globalData.destinations.Set(serverName, destination, gocache.DefaultExpiration)
}
