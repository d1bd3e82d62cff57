// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package background_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitmark-inc/matrixd/background"
)

type bg struct {
	ticks uint64
	done  uint32
}

func (state *bg) Run(args interface{}, shutdown <-chan struct{}) {

loop:
	for {
		select {
		case <-shutdown:
			break loop
		default:
		}
		atomic.AddUint64(&state.ticks, 1)
		time.Sleep(time.Millisecond)
	}

	atomic.StoreUint32(&state.done, 1)
}

func TestStartAndStop(t *testing.T) {

	proc1 := &bg{}
	proc2 := &bg{}

	processes := background.Processes{proc1, proc2}

	p := background.Start(processes, nil)
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	if 0 == atomic.LoadUint64(&proc1.ticks) {
		t.Errorf("process 1 never ran")
	}
	if 0 == atomic.LoadUint64(&proc2.ticks) {
		t.Errorf("process 2 never ran")
	}
	if 1 != atomic.LoadUint32(&proc1.done) {
		t.Errorf("process 1 did not shut down")
	}
	if 1 != atomic.LoadUint32(&proc2.done) {
		t.Errorf("process 2 did not shut down")
	}
}
