// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package roomstore

import (
	"encoding/json"

	"github.com/bitmark-inc/matrixd/event"
	"github.com/bitmark-inc/matrixd/storage"
)

// RoomExists - a room is known once it has a version record
func RoomExists(roomID string) bool {
	return storage.Pool.RoomVersions.Has([]byte(roomID))
}

// RoomVersion - stored version of a room
func RoomVersion(roomID string) (string, bool) {
	value := storage.Pool.RoomVersions.Get([]byte(roomID))
	if nil == value {
		return "", false
	}
	return string(value), true
}

// SetRoomVersion - record the version of a newly seen room
func SetRoomVersion(roomID string, version string) {
	storage.Pool.RoomVersions.Put([]byte(roomID), []byte(version))
}

// CurrentStateHash - hash naming the room's current state snapshot
func CurrentStateHash(roomID string) (string, bool) {
	value := storage.Pool.RoomStateHash.Get([]byte(roomID))
	if nil == value {
		return "", false
	}
	return string(value), true
}

// SetCurrentState - store a state snapshot and make it current
func SetCurrentState(roomID string, stateHash string, stateEventIds []string) error {
	packed, err := json.Marshal(stateEventIds)
	if nil != err {
		return err
	}
	storage.Pool.StateSnapshots.Put([]byte(stateHash), packed)
	storage.Pool.RoomStateHash.Put([]byte(roomID), []byte(stateHash))
	return nil
}

// StateSnapshot - the event ids of a stored snapshot
func StateSnapshot(stateHash string) ([]string, bool) {
	value := storage.Pool.StateSnapshots.Get([]byte(stateHash))
	if nil == value {
		return nil, false
	}
	var eventIds []string
	if err := json.Unmarshal(value, &eventIds); nil != err {
		return nil, false
	}
	return eventIds, true
}

// CurrentStateEvent - the current state entry of a (type, state key)
// pair, decoded from the event pool
func CurrentStateEvent(roomID string, eventType string, stateKey string) (event.Object, bool) {
	key := composeKey(roomID, eventType, stateKey)
	eventID := storage.Pool.RoomCurrentState.Get(key)
	if nil == eventID {
		return nil, false
	}
	raw, ok := GetEventJSON(string(eventID))
	if !ok {
		return nil, false
	}
	object, err := event.DecodeObject(raw)
	if nil != err {
		return nil, false
	}
	return object, true
}

// SetCurrentStateEvent - update one current state entry
func SetCurrentStateEvent(roomID string, eventType string, stateKey string, eventID string) {
	storage.Pool.RoomCurrentState.Put(composeKey(roomID, eventType, stateKey), []byte(eventID))
}

// ServerInRoom - check a server participates in a room
func ServerInRoom(serverName string, roomID string) bool {
	return storage.Pool.RoomServers.Has(composeKey(roomID, serverName))
}

// AddRoomServer - record a participating server
func AddRoomServer(roomID string, serverName string) {
	storage.Pool.RoomServers.Put(composeKey(roomID, serverName), []byte{})
}

// RoomServerList - all servers participating in a room
func RoomServerList(roomID string) []string {
	prefix := append([]byte(roomID), 0x00)
	elements := storage.Pool.RoomServers.Fetch(prefix, 0)
	servers := make([]string, 0, len(elements))
	for _, element := range elements {
		servers = append(servers, string(element.Key[len(prefix):]))
	}
	return servers
}

// membership record stored per room member
type membershipRecord struct {
	Membership   string         `json:"membership"`
	Sender       string         `json:"sender,omitempty"`
	InviteState  []event.Object `json:"invite_state,omitempty"`
	ChangedAtPos uint64         `json:"changed_at,omitempty"`
}

// Membership - current membership value of a user in a room
func Membership(userID string, roomID string) (string, bool) {
	value := storage.Pool.Membership.Get(composeKey(roomID, userID))
	if nil == value {
		return "", false
	}
	var record membershipRecord
	if err := json.Unmarshal(value, &record); nil != err {
		return "", false
	}
	return record.Membership, true
}

// IsJoined - check a user is currently joined to a room
func IsJoined(userID string, roomID string) bool {
	value := storage.Pool.Membership.Get(composeKey(roomID, userID))
	if nil == value {
		return false
	}
	var record membershipRecord
	if err := json.Unmarshal(value, &record); nil != err {
		return false
	}
	return event.MembershipJoin == record.Membership
}

// UpdateMembership - record a membership change
//
// a join also records the member's server as a room participant
func UpdateMembership(roomID string, userID string, membership string, sender string, inviteState []event.Object) error {
	record := membershipRecord{
		Membership:  membership,
		Sender:      sender,
		InviteState: inviteState,
	}
	packed, err := json.Marshal(record)
	if nil != err {
		return err
	}
	storage.Pool.Membership.Put(composeKey(roomID, userID), packed)

	if event.MembershipJoin == membership {
		AddRoomServer(roomID, event.UserServer(userID))
	}
	return nil
}

// RoomIdFromAlias - resolve a room alias
func RoomIdFromAlias(alias string) (string, bool) {
	value := storage.Pool.RoomAliases.Get([]byte(alias))
	if nil == value {
		return "", false
	}
	return string(value), true
}

// SetRoomAlias - record an alias for a room
func SetRoomAlias(alias string, roomID string) {
	storage.Pool.RoomAliases.Put([]byte(alias), []byte(roomID))
}
