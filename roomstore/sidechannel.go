// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package roomstore

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/bitmark-inc/matrixd/storage"
)

// protects the per-device to-device message counter
var toDeviceMutex sync.Mutex

// SetReadReceipt - store the latest read receipt of a user in a room
func SetReadReceipt(roomID string, userID string, eventID string, data json.RawMessage) error {
	record := map[string]interface{}{
		"event_id": eventID,
		"data":     data,
	}
	packed, err := json.Marshal(record)
	if nil != err {
		return err
	}
	storage.Pool.Receipts.Put(composeKey(roomID, userID), packed)
	return nil
}

// ReadReceipt - fetch the stored receipt of a user in a room
func ReadReceipt(roomID string, userID string) (json.RawMessage, bool) {
	value := storage.Pool.Receipts.Get(composeKey(roomID, userID))
	if nil == value {
		return nil, false
	}
	return json.RawMessage(value), true
}

// AllDeviceIds - every registered device of a local user
func AllDeviceIds(userID string) []string {
	prefix := append([]byte(userID), 0x00)
	elements := storage.Pool.Devices.Fetch(prefix, 0)
	devices := make([]string, 0, len(elements))
	for _, element := range elements {
		devices = append(devices, string(element.Key[len(prefix):]))
	}
	return devices
}

// AddDevice - register a device for a local user
func AddDevice(userID string, deviceID string, metadata []byte) {
	storage.Pool.Devices.Put(composeKey(userID, deviceID), metadata)
}

// DeviceMetadata - stored metadata of one device
func DeviceMetadata(userID string, deviceID string) ([]byte, bool) {
	value := storage.Pool.Devices.Get(composeKey(userID, deviceID))
	if nil == value {
		return nil, false
	}
	return value, true
}

// AddToDeviceMessage - queue a direct to-device payload
func AddToDeviceMessage(sender string, userID string, deviceID string, eventType string, payload json.RawMessage) error {
	record := map[string]interface{}{
		"sender":  sender,
		"type":    eventType,
		"content": payload,
	}
	packed, err := json.Marshal(record)
	if nil != err {
		return err
	}

	toDeviceMutex.Lock()
	defer toDeviceMutex.Unlock()

	position, err := storage.NextShortId()
	if nil != err {
		return err
	}
	key := composeKey(userID, deviceID, strconv.FormatUint(position, 10))
	storage.Pool.ToDeviceMessages.Put(key, packed)
	return nil
}

// ToDeviceMessages - queued payloads for one device
func ToDeviceMessages(userID string, deviceID string) []json.RawMessage {
	prefix := append(composeKey(userID, deviceID), 0x00)
	elements := storage.Pool.ToDeviceMessages.Fetch(prefix, 0)
	messages := make([]json.RawMessage, 0, len(elements))
	for _, element := range elements {
		messages = append(messages, json.RawMessage(element.Value))
	}
	return messages
}

// BumpDeviceListVersion - mark a user's device list as changed,
// returning the new version
func BumpDeviceListVersion(userID string) uint64 {
	version, _ := storage.Pool.DeviceListVersion.GetN([]byte(userID))
	version += 1
	storage.Pool.DeviceListVersion.PutN([]byte(userID), version)
	return version
}

// DeviceListVersion - current device list version of a user
func DeviceListVersion(userID string) uint64 {
	version, _ := storage.Pool.DeviceListVersion.GetN([]byte(userID))
	return version
}

// SeenToDeviceTxn - check the idempotency ledger for a processed
// to-device transaction
func SeenToDeviceTxn(sender string, messageID string) bool {
	return storage.Pool.TransactionIds.Has(composeKey(sender, messageID))
}

// MarkToDeviceTxn - record a processed to-device transaction
// the value is an empty marker only
func MarkToDeviceTxn(sender string, messageID string) {
	storage.Pool.TransactionIds.Put(composeKey(sender, messageID), []byte{})
}
