// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/crypto/ed25519"
	"golang.org/x/sync/semaphore"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/matrixd/fault"
)

const (
	keyCacheTime       = time.Hour
	cacheSweepInterval = 10 * time.Minute
)

// globals for this module
type keyringData struct {
	sync.RWMutex

	log *logger.L

	serverName string
	keyID      string
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	notaryServers []string

	cache   *gocache.Cache
	backoff *Ledger

	permitLock sync.Mutex
	permits    map[string]*semaphore.Weighted

	initialised bool
}

var globalData = keyringData{
	permits: map[string]*semaphore.Weighted{},
}

// Initialise - setup the keyring with this server's identity and its
// trusted notary servers
func Initialise(serverName string, keyID string, privateKey ed25519.PrivateKey, notaryServers []string) error {
	globalData.Lock()
	defer globalData.Unlock()

	if globalData.initialised {
		return fault.AlreadyInitialised
	}
	if ed25519.PrivateKeySize != len(privateKey) {
		return fault.InvalidPrivateKey
	}

	globalData.log = logger.New("keyring")
	globalData.log.Info("starting…")

	globalData.serverName = serverName
	globalData.keyID = keyID
	globalData.privateKey = privateKey
	globalData.publicKey = privateKey.Public().(ed25519.PublicKey)
	globalData.notaryServers = notaryServers
	globalData.cache = gocache.New(keyCacheTime, cacheSweepInterval)
	globalData.backoff = NewLedger()
	globalData.permits = map[string]*semaphore.Weighted{}

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
	globalData.cache = nil
	globalData.initialised = false
	globalData.Unlock()

	return nil
}

// one fetch at a time per remote server
//
// permits are created on first use and never removed; the population
// of servers ever contacted is small
func permitFor(serverName string) *semaphore.Weighted {
	globalData.permitLock.Lock()
	defer globalData.permitLock.Unlock()

	permit, ok := globalData.permits[serverName]
	if !ok {
		permit = semaphore.NewWeighted(1)
		globalData.permits[serverName] = permit
	}
	return permit
}
