// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package roomstore

import (
	"sync"

	"github.com/bitmark-inc/matrixd/event"
	"github.com/bitmark-inc/matrixd/fault"
	"github.com/bitmark-inc/matrixd/storage"
)

// protects short id read-check-allocate
var shortIdMutex sync.Mutex

// compose a multi-part key with NUL separators
func composeKey(parts ...string) []byte {
	size := 0
	for _, part := range parts {
		size += len(part) + 1
	}
	key := make([]byte, 0, size)
	for i, part := range parts {
		if i > 0 {
			key = append(key, 0x00)
		}
		key = append(key, part...)
	}
	return key
}

// PutEvent - persist the canonical JSON of an admitted event and
// record its arrival position
//
// the event id is the storage key; the stored JSON never contains
// the derived id
func PutEvent(eventID string, roomID string, canonical []byte) error {
	if "" == eventID || "" == roomID {
		return fault.InvalidRoomId
	}

	storage.Pool.Events.Put([]byte(eventID), canonical)

	if _, ok := storage.Pool.EventPosition.GetN([]byte(eventID)); !ok {
		position, err := storage.NextShortId()
		if nil != err {
			return err
		}
		storage.Pool.EventPosition.PutN([]byte(eventID), position)
	}

	_, err := GetOrCreateShortId(eventID)
	return err
}

// GetEventJSON - raw canonical JSON of a stored event
func GetEventJSON(eventID string) ([]byte, bool) {
	value := storage.Pool.Events.Get([]byte(eventID))
	if nil == value {
		return nil, false
	}
	return value, true
}

// GetEvent - decode a stored event, attaching its id
func GetEvent(eventID string) (*event.PDU, bool) {
	raw, ok := GetEventJSON(eventID)
	if !ok {
		return nil, false
	}
	pdu, err := event.ParsePDU(raw)
	if nil != err {
		return nil, false
	}
	pdu.EventID = eventID
	return pdu, true
}

// HasEvent - check an event is stored
func HasEvent(eventID string) bool {
	return storage.Pool.Events.Has([]byte(eventID))
}

// EventPosition - monotonic arrival position of a stored event
func EventPosition(eventID string) (uint64, bool) {
	return storage.Pool.EventPosition.GetN([]byte(eventID))
}

// GetOrCreateShortId - compact integer alias for an event id
//
// short ids are allocated on first sight, also for events this
// server has never stored (auth chain references)
func GetOrCreateShortId(eventID string) (uint64, error) {
	if short, ok := storage.Pool.EventShortId.GetN([]byte(eventID)); ok {
		return short, nil
	}

	shortIdMutex.Lock()
	defer shortIdMutex.Unlock()

	// re-check under the lock
	if short, ok := storage.Pool.EventShortId.GetN([]byte(eventID)); ok {
		return short, nil
	}

	short, err := storage.NextShortId()
	if nil != err {
		return 0, err
	}

	storage.Pool.EventShortId.PutN([]byte(eventID), short)

	shortKey := make([]byte, 8)
	putUint64(shortKey, short)
	storage.Pool.ShortIdEvent.Put(shortKey, []byte(eventID))

	return short, nil
}

// EventIdFromShort - reverse short id lookup
func EventIdFromShort(short uint64) (string, bool) {
	shortKey := make([]byte, 8)
	putUint64(shortKey, short)
	value := storage.Pool.ShortIdEvent.Get(shortKey)
	if nil == value {
		return "", false
	}
	return string(value), true
}

func putUint64(buffer []byte, value uint64) {
	for i := 7; i >= 0; i -= 1 {
		buffer[i] = byte(value)
		value >>= 8
	}
}
