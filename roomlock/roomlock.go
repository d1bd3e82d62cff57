// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package roomlock - per-room mutual exclusion
//
// two independent lock families: Federation serialises transaction
// handling per room, State serialises template building against
// concurrent state changes.  Locks are created on first use and kept
// for the life of the process.
package roomlock

import (
	"sync"
)

type lockTable struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}

func (table *lockTable) get(roomID string) *sync.Mutex {
	table.Lock()
	defer table.Unlock()

	lock, ok := table.locks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		table.locks[roomID] = lock
	}
	return lock
}

var federationLocks = lockTable{locks: map[string]*sync.Mutex{}}
var stateLocks = lockTable{locks: map[string]*sync.Mutex{}}

// Federation - the lock serialising inbound federation for a room
func Federation(roomID string) *sync.Mutex {
	return federationLocks.get(roomID)
}

// State - the lock serialising state reads against admissions
func State(roomID string) *sync.Mutex {
	return stateLocks.get(roomID)
}
