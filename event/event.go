// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package event

import (
	"encoding/json"
	"strings"

	"github.com/bitmark-inc/matrixd/fault"
)

// state event types used by the federation core
const (
	TypeMember     = "m.room.member"
	TypeServerAcl  = "m.room.server_acl"
	TypeJoinRules  = "m.room.join_rules"
	TypeCreate     = "m.room.create"
	TypePowerLevel = "m.room.power_levels"
	TypeName       = "m.room.name"
	TypeAvatar     = "m.room.avatar"
	TypeTopic      = "m.room.topic"
	TypeAlias      = "m.room.canonical_alias"
	TypeEncryption = "m.room.encryption"
)

// membership values
const (
	MembershipJoin   = "join"
	MembershipInvite = "invite"
	MembershipLeave  = "leave"
)

// PDU - the decoded fields of a persistent data unit needed by the
// federation core; the canonical Object stays the source of truth
// for hashing and signing
type PDU struct {
	EventID        string          `json:"-"` // derived, never on the wire
	RoomID         string          `json:"room_id"`
	Sender         string          `json:"sender"`
	Origin         string          `json:"origin,omitempty"`
	Type           string          `json:"type"`
	StateKey       *string         `json:"state_key,omitempty"`
	Content        json.RawMessage `json:"content"`
	AuthEvents     []string        `json:"auth_events"`
	PrevEvents     []string        `json:"prev_events"`
	Depth          int64           `json:"depth"`
	OriginServerTS int64           `json:"origin_server_ts"`
}

// ParsePDU - decode the typed fields from raw event JSON and attach
// the derived event id
func ParsePDU(raw []byte) (*PDU, error) {
	eventID, _, err := DeriveEventID(raw)
	if nil != err {
		return nil, err
	}

	pdu := &PDU{}
	if err := json.Unmarshal(raw, pdu); nil != err {
		return nil, fault.EventNotCanonical
	}
	pdu.EventID = eventID

	return pdu, nil
}

// RoomIDField - extract and validate a room_id from a canonical
// object; room ids look like "!opaque:server.name"
func (object Object) RoomIDField() (string, error) {
	roomID, ok := object.StringField("room_id")
	if !ok || !IsValidRoomID(roomID) {
		return "", fault.InvalidRoomId
	}
	return roomID, nil
}

// IsValidRoomID - structural check of a room id
func IsValidRoomID(id string) bool {
	if len(id) < 4 || '!' != id[0] {
		return false
	}
	colon := strings.IndexByte(id, ':')
	return colon > 1 && colon < len(id)-1
}

// IsValidUserID - structural check of a user id "@local:server.name"
func IsValidUserID(id string) bool {
	if len(id) < 4 || '@' != id[0] {
		return false
	}
	colon := strings.IndexByte(id, ':')
	return colon > 1 && colon < len(id)-1
}

// UserServer - the server name part of a user id
func UserServer(userID string) string {
	colon := strings.IndexByte(userID, ':')
	if colon < 0 {
		return ""
	}
	return userID[colon+1:]
}

// ToOutgoingFederationEvent - projection of a stored event for the
// wire: the derived event_id and locally added unsigned data are
// stripped, everything else passes through untouched
func ToOutgoingFederationEvent(object Object) Object {
	outgoing := object.Copy()
	delete(outgoing, "event_id")
	delete(outgoing, "unsigned")
	return outgoing
}

// ToStrippedStateEvent - minimal projection sent as invite context
func ToStrippedStateEvent(object Object) Object {
	stripped := make(Object, 4)
	for _, field := range []string{"content", "type", "state_key", "sender"} {
		if value, ok := object[field]; ok {
			stripped[field] = value
		}
	}
	return stripped
}
