// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package courier - deliver accepted events to the other residents
//
// drains the messagebus SendEvent queue; each message names one
// destination server and carries one canonical event
package courier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/matrixd/background"
	"github.com/bitmark-inc/matrixd/fault"
	"github.com/bitmark-inc/matrixd/keyring"
	"github.com/bitmark-inc/matrixd/messagebus"
	"github.com/bitmark-inc/matrixd/transport"
)

const deliveryTimeout = 30 * time.Second

// transaction ids must never repeat towards the same destination
var transactionCounter uint64

// injection point for tests
var deliver = sendTransaction

// globals
type courierData struct {
	sync.RWMutex // to allow locking

	log        *logger.L     // logger
	background *background.T // the courier process

	// set once during initialise
	initialised bool
}

// global data
var globalData courierData

// the background process
type courier struct {
	log *logger.L
}

// Initialise - start the delivery process
func Initialise() error {
	globalData.Lock()
	defer globalData.Unlock()

	// no need to start if already started
	if globalData.initialised {
		return fault.AlreadyInitialised
	}

	globalData.log = logger.New("courier")
	globalData.log.Info("starting…")

	processes := background.Processes{
		&courier{log: globalData.log},
	}
	globalData.background = background.Start(processes, nil)

	globalData.initialised = true

	return nil
}

// Finalise - stop the delivery process
func Finalise() error {
	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return fault.NotInitialised
	}

	globalData.log.Info("shutting down…")
	globalData.background.Stop()

	globalData.initialised = false

	globalData.log.Info("finished")
	globalData.log.Flush()

	return nil
}

// Run - drain the send queue until shutdown
func (c *courier) Run(args interface{}, shutdown <-chan struct{}) {

	queue := messagebus.Bus.SendEvent.Chan()

loop:
	for {
		select {
		case <-shutdown:
			break loop

		case message := <-queue:
			if "pdu" != message.Command || 2 != len(message.Parameters) {
				c.log.Errorf("unexpected message: %q with: %d parameters", message.Command, len(message.Parameters))
				continue loop
			}
			server := string(message.Parameters[0])
			if err := deliver(server, message.Parameters[1]); nil != err {
				c.log.Warnf("delivery to: %q failed: %s", server, err)
			}
		}
	}
}

// one event, one destination, one signed transaction
func sendTransaction(server string, canonical []byte) error {

	transactionID := fmt.Sprintf("%d.%d",
		time.Now().UnixNano()/int64(time.Millisecond),
		atomic.AddUint64(&transactionCounter, 1),
	)

	body := map[string]interface{}{
		"origin":           keyring.ServerName(),
		"origin_server_ts": time.Now().UnixNano() / int64(time.Millisecond),
		"pdus":             []json.RawMessage{json.RawMessage(canonical)},
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	reply := map[string]interface{}{}
	return transport.SendRequest(ctx, server, "PUT",
		"/_matrix/federation/v1/send/"+transactionID, body, &reply)
}
