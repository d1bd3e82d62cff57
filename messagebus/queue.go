// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package messagebus

import (
	"sync"
)

// Message - message to put into a queue
type Message struct {
	Command    string   // type of packed data
	Parameters [][]byte // array of parameters
}

// Queue - a 1:1 queue
type Queue struct {
	c    chan Message
	size int
}

// internal constants
const (
	defaultQueueSize = 1000
)

// the exported message queues
//
// SendEvent is the outbound send queue: an accepted PDU id plus the
// list of servers that must receive it; a background courier drains it
//
// Broadcast carries local change notifications (device list updates,
// read receipts) to any number of listeners
type busses struct {
	SendEvent *Queue       `size:"1000"` // to the outbound courier
	Broadcast *broadcaster `size:"100"`  // to any listeners
}

// Bus - all available queues
var Bus busses

// initialise all queues with their default sizes
func init() {
	Bus.SendEvent = &Queue{
		c:    make(chan Message, defaultQueueSize),
		size: defaultQueueSize,
	}
	Bus.Broadcast = &broadcaster{}
}

// Send - add a message to a queue
func (queue *Queue) Send(command string, parameters ...[]byte) {
	queue.c <- Message{
		Command:    command,
		Parameters: parameters,
	}
}

// Chan - channel to read from a queue
func (queue *Queue) Chan() <-chan Message {
	return queue.c
}

// broadcaster - a 1:N queue
type broadcaster struct {
	sync.Mutex
	listeners []chan Message
}

// Send - send a message to all current listeners, dropping the
// message for any listener whose channel is full
func (b *broadcaster) Send(command string, parameters ...[]byte) {
	b.Lock()
	defer b.Unlock()

	message := Message{
		Command:    command,
		Parameters: parameters,
	}

	for _, l := range b.listeners {
		select {
		case l <- message:
		default: // slow listeners lose messages
		}
	}
}

// Chan - create a new listener channel
// size of zero gets a default buffer size
func (b *broadcaster) Chan(size int) <-chan Message {
	b.Lock()
	defer b.Unlock()

	if size <= 0 {
		size = 100
	}
	l := make(chan Message, size)
	b.listeners = append(b.listeners, l)
	return l
}
