// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mode - the run state of the daemon
//
// federation endpoints must check IsFederationAllowed before doing
// any work; the administrator can run the daemon with federation
// disabled to serve only local data
package mode

import (
	"sync"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/matrixd/fault"
)

// Mode - type to hold the run mode
type Mode int

// all possible modes
const (
	Stopped Mode = iota
	Normal
	maximum
)

var globalData struct {
	sync.RWMutex
	log        *logger.L
	mode       Mode
	federation bool

	// set once during initialise
	initialised bool
}

// Initialise - set up the mode system
func Initialise(allowFederation bool) error {
	globalData.Lock()
	defer globalData.Unlock()

	// no need to start if already started
	if globalData.initialised {
		return fault.AlreadyInitialised
	}

	globalData.log = logger.New("mode")
	globalData.log.Info("starting…")

	globalData.mode = Normal
	globalData.federation = allowFederation
	globalData.initialised = true

	if !allowFederation {
		globalData.log.Warn("federation is disabled")
	}

	return nil
}

// Finalise - shutdown mode handling
func Finalise() error {
	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return fault.NotInitialised
	}

	globalData.mode = Stopped
	globalData.initialised = false
	globalData.log.Info("finished")
	globalData.log.Flush()

	return nil
}

// Set - change mode
func Set(mode Mode) {

	if mode >= Stopped && mode < maximum {
		globalData.Lock()
		globalData.mode = mode
		globalData.Unlock()

		globalData.log.Infof("set: %s", mode)
	} else {
		globalData.log.Errorf("ignore invalid set: %d", mode)
	}
}

// Is - test mode
func Is(mode Mode) bool {
	globalData.RLock()
	defer globalData.RUnlock()
	return mode == globalData.mode
}

// IsFederationAllowed - check federation is administratively enabled
// and the daemon is running normally
func IsFederationAllowed() bool {
	globalData.RLock()
	defer globalData.RUnlock()
	return globalData.federation && Normal == globalData.mode
}

// String - current mode represented as a string
func (m Mode) String() string {
	switch m {
	case Stopped:
		return "Stopped"
	case Normal:
		return "Normal"
	default:
		return "*Unknown*"
	}
}
