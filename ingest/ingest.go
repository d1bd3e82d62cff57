// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/matrixd/event"
	"github.com/bitmark-inc/matrixd/fault"
	"github.com/bitmark-inc/matrixd/keyring"
	"github.com/bitmark-inc/matrixd/roomlock"
	"github.com/bitmark-inc/matrixd/roomstore"
)

const typingSweepInterval = 10 * time.Second

// Admitter - decides whether an event enters the room graph
//
// implementations verify and persist; the transaction loop only does
// the per-room locking and bookkeeping around them
type Admitter interface {
	AdmitEvent(ctx context.Context, origin string, eventID string, object event.Object, roomID string) error
}

// globals for this module
type ingestData struct {
	sync.RWMutex

	log *logger.L

	admitter  Admitter
	badEvents *keyring.Ledger
	typing    *gocache.Cache

	initialised bool
}

var globalData ingestData

// Initialise - setup transaction processing
//
// a nil admitter selects the default verifying admitter
func Initialise(admitter Admitter) error {
	globalData.Lock()
	defer globalData.Unlock()

	if globalData.initialised {
		return fault.AlreadyInitialised
	}

	globalData.log = logger.New("ingest")
	globalData.log.Info("starting…")

	if nil == admitter {
		admitter = defaultAdmitter{}
	}
	globalData.admitter = admitter
	globalData.badEvents = keyring.NewLedger()
	globalData.typing = gocache.New(gocache.NoExpiration, typingSweepInterval)

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
	globalData.admitter = nil
	globalData.typing = nil
	globalData.initialised = false
	globalData.Unlock()

	return nil
}

// ProcessTransaction - handle one inbound transaction
//
// the result maps each identifiable event id to an error message,
// empty on success.  PDUs that cannot even be named are dropped with
// a log entry, matching what remote servers expect
func ProcessTransaction(ctx context.Context, origin string, pdus []json.RawMessage, edus []json.RawMessage) (map[string]string, error) {
	if !globalData.initialised {
		return nil, fault.NotInitialised
	}

	log := globalData.log
	results := map[string]string{}

	for _, raw := range pdus {
		eventID, message := handlePDU(ctx, origin, raw)
		if "" == eventID {
			continue
		}
		results[eventID] = message
	}

	for _, raw := range edus {
		handleEDU(ctx, origin, raw)
	}

	log.Debugf("transaction from: %q pdus: %d edus: %d", origin, len(pdus), len(edus))
	return results, nil
}

// one PDU, isolated: a panic is reported as that event's failure
func handlePDU(ctx context.Context, origin string, raw json.RawMessage) (eventID string, message string) {
	log := globalData.log

	defer func() {
		if r := recover(); nil != r {
			log.Errorf("panic handling event: %q: %v", eventID, r)
			message = "internal error handling event"
		}
	}()

	eventID, object, err := event.DeriveEventID(raw)
	if nil != err {
		log.Warnf("undecodable event from: %q: %s", origin, err)
		return "", ""
	}

	roomID, err := object.RoomIDField()
	if nil != err {
		return eventID, "Event needs a valid RoomId."
	}

	if !roomstore.RoomExists(roomID) {
		return eventID, "Room is unknown to this server."
	}

	if err := AclCheck(origin, roomID); nil != err {
		log.Infof("ACL rejection: %q in room: %q", origin, roomID)
		return eventID, err.Error()
	}

	if globalData.badEvents.Active(eventID) {
		return eventID, fault.BadEventBackingOff.Error()
	}

	lock := roomlock.Federation(roomID)
	lock.Lock()
	err = globalData.admitter.AdmitEvent(ctx, origin, eventID, object, roomID)
	lock.Unlock()

	if nil != err {
		globalData.badEvents.MarkAttempt(eventID)
		log.Warnf("event: %q rejected: %s", eventID, err)
		return eventID, err.Error()
	}
	return eventID, ""
}
