// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"sync"
	"time"
)

const (
	backoffUnit    = 30 * time.Second
	backoffMaximum = 24 * time.Hour
)

// for testing
var clock = time.Now

type backoffEntry struct {
	lastAttempt time.Time
	tries       int
}

// Ledger - failure driven backoff, one window per key
//
// the window grows with the square of the failure count and is
// capped at one day
type Ledger struct {
	sync.Mutex
	entries map[string]backoffEntry
}

// NewLedger - create an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		entries: map[string]backoffEntry{},
	}
}

// Active - check a key is still inside its backoff window
func (ledger *Ledger) Active(key string) bool {
	ledger.Lock()
	defer ledger.Unlock()

	entry, ok := ledger.entries[key]
	if !ok {
		return false
	}

	window := backoffUnit * time.Duration(entry.tries*entry.tries)
	if window > backoffMaximum {
		window = backoffMaximum
	}
	return clock().Sub(entry.lastAttempt) < window
}

// MarkAttempt - record one more failed attempt for a key
func (ledger *Ledger) MarkAttempt(key string) {
	ledger.Lock()
	defer ledger.Unlock()

	entry := ledger.entries[key]
	entry.lastAttempt = clock()
	entry.tries += 1
	ledger.entries[key] = entry
}

// Clear - forget a key after a success
func (ledger *Ledger) Clear(key string) {
	ledger.Lock()
	delete(ledger.entries, key)
	ledger.Unlock()
}
