// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package authchain - transitive closure over event auth references
//
// chains are computed per starting event and cached at two levels:
// once per event and once per bucket of up to fifty starting events,
// so a repeated state_ids request with a large starting set is
// served from a handful of cache hits
package authchain

import (
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/matrixd/fault"
	"github.com/bitmark-inc/matrixd/roomstore"
)

const (
	bucketCount    = 50
	chainCacheTime = time.Hour
	sweepInterval  = 10 * time.Minute
)

// globals for this module
type authchainData struct {
	sync.RWMutex

	log *logger.L

	initialised bool
}

var globalData authchainData

// chain cache is usable before Initialise; only logging needs setup
var chainCache = gocache.New(chainCacheTime, sweepInterval)

// Initialise - setup logging
func Initialise() error {
	globalData.Lock()
	defer globalData.Unlock()

	if globalData.initialised {
		return fault.AlreadyInitialised
	}

	globalData.log = logger.New("authchain")
	globalData.log.Info("starting…")

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
	globalData.initialised = false
	globalData.Unlock()

	return nil
}

type chainEntry struct {
	short   uint64
	eventID string
}

// AuthChainFor - every event id reachable through auth references
// from the starting events, excluding the starting events themselves
//
// referenced events this server has never stored are included in the
// chain but contribute no ancestors
func AuthChainFor(roomID string, startingEventIds []string) ([]string, error) {
	log := globalData.log

	buckets := make([][]chainEntry, bucketCount)
	for _, eventID := range startingEventIds {
		short, err := roomstore.GetOrCreateShortId(eventID)
		if nil != err {
			return nil, err
		}
		bucket := short % bucketCount
		buckets[bucket] = append(buckets[bucket], chainEntry{
			short:   short,
			eventID: eventID,
		})
	}

	full := map[uint64]struct{}{}
	hits := 0
	misses := 0

bucketLoop:
	for _, chunk := range buckets {
		if 0 == len(chunk) {
			continue bucketLoop
		}

		sort.Slice(chunk, func(i int, j int) bool {
			return chunk[i].short < chunk[j].short
		})

		key := chunkKey(chunk)
		if cached, ok := chainCache.Get(key); ok {
			hits += 1
			for short := range cached.(map[uint64]struct{}) {
				full[short] = struct{}{}
			}
			continue bucketLoop
		}
		misses += 1

		chunkChain := map[uint64]struct{}{}
		for _, entry := range chunk {
			singleKey := strconv.FormatUint(entry.short, 10)
			if cached, ok := chainCache.Get(singleKey); ok {
				hits += 1
				for short := range cached.(map[uint64]struct{}) {
					chunkChain[short] = struct{}{}
				}
				continue
			}
			misses += 1

			chain, err := walk(roomID, entry.eventID)
			if nil != err {
				return nil, err
			}
			chainCache.Set(singleKey, chain, gocache.DefaultExpiration)
			for short := range chain {
				chunkChain[short] = struct{}{}
			}
		}

		chainCache.Set(key, chunkChain, gocache.DefaultExpiration)
		for short := range chunkChain {
			full[short] = struct{}{}
		}
	}

	if nil != log {
		log.Debugf("chain: %q starting: %d hits: %d misses: %d size: %d",
			roomID, len(startingEventIds), hits, misses, len(full))
	}

	result := make([]string, 0, len(full))
	for short := range full {
		eventID, ok := roomstore.EventIdFromShort(short)
		if !ok {
			continue
		}
		result = append(result, eventID)
	}
	sort.Strings(result)
	return result, nil
}

func chunkKey(chunk []chainEntry) string {
	parts := make([]string, len(chunk))
	for i, entry := range chunk {
		parts[i] = strconv.FormatUint(entry.short, 10)
	}
	return strings.Join(parts, ",")
}

// iterative ancestor walk for one starting event
func walk(roomID string, startEventID string) (map[uint64]struct{}, error) {
	log := globalData.log

	found := map[uint64]struct{}{}
	todo := []string{startEventID}
	processed := 0

	for 0 != len(todo) {
		eventID := todo[len(todo)-1]
		todo = todo[:len(todo)-1]

		processed += 1
		if 0 == processed%100 {
			runtime.Gosched()
		}

		pdu, ok := roomstore.GetEvent(eventID)
		if !ok {
			if nil != log {
				log.Warnf("auth reference to unknown event: %q", eventID)
			}
			continue
		}
		if pdu.RoomID != roomID {
			return nil, fault.EvilEventInDatabase
		}

		for _, authID := range pdu.AuthEvents {
			short, err := roomstore.GetOrCreateShortId(authID)
			if nil != err {
				return nil, err
			}
			if _, seen := found[short]; !seen {
				found[short] = struct{}{}
				todo = append(todo, authID)
			}
		}
	}

	return found, nil
}
