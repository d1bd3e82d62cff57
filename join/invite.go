// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package join

import (
	"encoding/json"

	"github.com/bitmark-inc/matrixd/event"
	"github.com/bitmark-inc/matrixd/fault"
	"github.com/bitmark-inc/matrixd/keyring"
	"github.com/bitmark-inc/matrixd/roomstore"
)

// AcceptInvite - countersign an invite for a local user
//
// the invite is recorded with its stripped room state so the invited
// user sees room context before joining.  When this server already
// participates in the room the membership comes from the room graph
// instead, so only unknown rooms record the invite directly
func AcceptInvite(roomID string, roomVersion string, raw json.RawMessage, inviteRoomState []event.Object) (event.Object, error) {
	if !isSupportedVersion(roomVersion) {
		return nil, fault.IncompatibleRoomVersion
	}

	object, err := event.DecodeObject(raw)
	if nil != err {
		return nil, err
	}

	eventRoom, err := object.RoomIDField()
	if nil != err || eventRoom != roomID {
		return nil, fault.InvalidRoomId
	}

	sender, ok := object.StringField("sender")
	if !ok || !event.IsValidUserID(sender) {
		return nil, fault.InvalidSender
	}

	stateKey, ok := object.StringField("state_key")
	if !ok || !event.IsValidUserID(stateKey) {
		return nil, fault.InvalidStateKey
	}
	if event.UserServer(stateKey) != keyring.ServerName() {
		return nil, fault.UnauthorisedRequest
	}

	if err := keyring.SignObject(object); nil != err {
		return nil, err
	}

	// the countersigned invite is a room event in its own right
	stored := object.Copy()
	delete(stored, "unsigned")
	packed, err := json.Marshal(map[string]interface{}(stored))
	if nil != err {
		return nil, err
	}
	canonical, err := event.CanonicalJSON(packed)
	if nil != err {
		return nil, err
	}
	eventID, _, err := event.DeriveEventID(canonical)
	if nil != err {
		return nil, err
	}
	if err := roomstore.PutEvent(eventID, roomID, canonical); nil != err {
		return nil, err
	}

	if !roomstore.RoomExists(roomID) {
		stripped := make([]event.Object, 0, len(inviteRoomState))
		for _, state := range inviteRoomState {
			stripped = append(stripped, event.ToStrippedStateEvent(state))
		}
		if err := roomstore.UpdateMembership(roomID, stateKey, event.MembershipInvite, sender, stripped); nil != err {
			return nil, err
		}
	}

	return object, nil
}
