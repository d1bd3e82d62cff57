// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package join

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/bitmark-inc/matrixd/authchain"
	"github.com/bitmark-inc/matrixd/event"
	"github.com/bitmark-inc/matrixd/fault"
	"github.com/bitmark-inc/matrixd/ingest"
	"github.com/bitmark-inc/matrixd/keyring"
	"github.com/bitmark-inc/matrixd/messagebus"
	"github.com/bitmark-inc/matrixd/roomlock"
	"github.com/bitmark-inc/matrixd/roomstore"
)

// room versions this implementation can participate in
var supportedVersions = map[string]struct{}{
	"5": {},
	"6": {},
}

func isSupportedVersion(version string) bool {
	_, ok := supportedVersions[version]
	return ok
}

// state event types referenced by a join event
var joinAuthTypes = []struct {
	eventType string
	stateKey  func(userID string) string
}{
	{event.TypeCreate, func(string) string { return "" }},
	{event.TypeJoinRules, func(string) string { return "" }},
	{event.TypePowerLevel, func(string) string { return "" }},
	{event.TypeMember, func(userID string) string { return userID }},
}

// MakeJoinTemplate - build a join event for a remote user to sign
//
// the template is hashed and signed by this server but never
// persisted; the joining server finalises and returns it through
// send_join
func MakeJoinTemplate(roomID string, userID string, acceptedVersions []string) (string, event.Object, error) {
	if !roomstore.RoomExists(roomID) {
		return "", nil, fault.RoomUnknown
	}

	origin := event.UserServer(userID)
	if err := ingest.AclCheck(origin, roomID); nil != err {
		return "", nil, err
	}

	version, ok := roomstore.RoomVersion(roomID)
	if !ok {
		return "", nil, fault.RoomUnknown
	}
	accepted := false
	for _, v := range acceptedVersions {
		if v == version {
			accepted = true
			break
		}
	}
	if !accepted || !isSupportedVersion(version) {
		return "", nil, fault.IncompatibleRoomVersion
	}

	lock := roomlock.State(roomID)
	lock.Lock()
	defer lock.Unlock()

	if isRestrictedRoom(roomID) {
		return "", nil, fault.RestrictedRoomUnsupported
	}

	authEvents := []interface{}{}
	for _, item := range joinAuthTypes {
		stateKey := item.stateKey(userID)
		key := stateEventKey(roomID, item.eventType, stateKey)
		if "" != key {
			authEvents = append(authEvents, key)
		}
	}

	prevEvents := []interface{}{}
	if stateHash, ok := roomstore.CurrentStateHash(roomID); ok {
		if snapshot, ok := roomstore.StateSnapshot(stateHash); ok {
			for _, id := range snapshot {
				prevEvents = append(prevEvents, id)
			}
		}
	}

	template := event.Object{
		"room_id":          roomID,
		"type":             event.TypeMember,
		"state_key":        userID,
		"sender":           userID,
		"origin":           keyring.ServerName(),
		"origin_server_ts": json.Number(millisNow()),
		"content": map[string]interface{}{
			"membership": event.MembershipJoin,
		},
		"auth_events": authEvents,
		"prev_events": prevEvents,
		"depth":       json.Number("0"),
	}

	if err := keyring.SignEventObject(template); nil != err {
		return "", nil, err
	}
	return version, template, nil
}

// JoinResponse - answer to a completed send_join
type JoinResponse struct {
	Origin    string            `json:"origin"`
	State     []json.RawMessage `json:"state"`
	AuthChain []json.RawMessage `json:"auth_chain"`
}

// AcceptJoin - verify, countersign and admit a finalised join event
//
// the returned state and auth chain describe the room as it was
// before the join, so the new member can resolve from a clean base
func AcceptJoin(ctx context.Context, origin string, roomID string, raw json.RawMessage) (*JoinResponse, error) {
	if !roomstore.RoomExists(roomID) {
		return nil, fault.RoomUnknown
	}
	if err := ingest.AclCheck(origin, roomID); nil != err {
		return nil, err
	}
	if isRestrictedRoom(roomID) {
		return nil, fault.RestrictedRoomUnsupported
	}

	eventID, object, err := event.DeriveEventID(raw)
	if nil != err {
		return nil, err
	}

	eventRoom, err := object.RoomIDField()
	if nil != err || eventRoom != roomID {
		return nil, fault.InvalidRoomId
	}

	eventType, _ := object.StringField("type")
	if event.TypeMember != eventType {
		return nil, fault.CannotAcceptPdu
	}

	stateKey, ok := object.StringField("state_key")
	if !ok || !event.IsValidUserID(stateKey) {
		return nil, fault.InvalidStateKey
	}
	sender, ok := object.StringField("sender")
	if !ok || sender != stateKey {
		return nil, fault.InvalidSender
	}

	// the origin field names the server whose signature must verify
	eventOrigin, ok := object.StringField("origin")
	if !ok {
		return nil, fault.MissingOriginField
	}

	if err := event.VerifyContentHash(object); nil != err {
		return nil, err
	}
	if err := keyring.VerifyOrigin(ctx, object, eventOrigin); nil != err {
		return nil, err
	}

	if err := keyring.SignObject(object); nil != err {
		return nil, err
	}

	lock := roomlock.Federation(roomID)
	lock.Lock()
	defer lock.Unlock()

	// room state before this member is admitted
	preJoinState := []string{}
	if stateHash, ok := roomstore.CurrentStateHash(roomID); ok {
		if snapshot, ok := roomstore.StateSnapshot(stateHash); ok {
			preJoinState = snapshot
		}
	}

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
	if err := roomstore.PutEvent(eventID, roomID, canonical); nil != err {
		return nil, err
	}
	if err := roomstore.UpdateMembership(roomID, stateKey, event.MembershipJoin, sender, nil); nil != err {
		return nil, err
	}
	roomstore.SetCurrentStateEvent(roomID, event.TypeMember, stateKey, eventID)

	// the other residents learn of the join from us
	self := keyring.ServerName()
	for _, server := range roomstore.RoomServerList(roomID) {
		if server == self || server == origin {
			continue
		}
		messagebus.Bus.SendEvent.Send("pdu", []byte(server), canonical)
	}

	response := &JoinResponse{
		Origin:    self,
		State:     collectEvents(preJoinState),
		AuthChain: nil,
	}

	chain, err := authchain.AuthChainFor(roomID, preJoinState)
	if nil != err {
		return nil, err
	}
	response.AuthChain = collectEvents(chain)

	return response, nil
}

// a restricted join rule needs allow-condition evaluation which this
// implementation does not perform
func isRestrictedRoom(roomID string) bool {
	rules, ok := roomstore.CurrentStateEvent(roomID, event.TypeJoinRules, "")
	if !ok {
		return false
	}
	content, ok := rules["content"].(map[string]interface{})
	if !ok {
		return false
	}
	rule, ok := content["join_rule"].(string)
	return ok && "restricted" == rule
}

// current state entry's event id, empty when absent
func stateEventKey(roomID string, eventType string, stateKey string) string {
	object, ok := roomstore.CurrentStateEvent(roomID, eventType, stateKey)
	if !ok {
		return ""
	}
	packed, err := json.Marshal(map[string]interface{}(object))
	if nil != err {
		return ""
	}
	eventID, _, err := event.DeriveEventID(packed)
	if nil != err {
		return ""
	}
	return eventID
}

func collectEvents(eventIds []string) []json.RawMessage {
	events := make([]json.RawMessage, 0, len(eventIds))
	for _, id := range eventIds {
		if raw, ok := roomstore.GetEventJSON(id); ok {
			events = append(events, json.RawMessage(raw))
		}
	}
	return events
}

func millisNow() string {
	return strconv.FormatInt(time.Now().UnixNano()/int64(time.Millisecond), 10)
}
