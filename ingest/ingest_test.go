// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ingest

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bitmark-inc/matrixd/event"
	"github.com/bitmark-inc/matrixd/fault"
	"github.com/bitmark-inc/matrixd/fixtures"
	"github.com/bitmark-inc/matrixd/roomstore"
)

// admitter that stores without verification and fails on demand
type recordingAdmitter struct {
	admitted []string
}

func (a *recordingAdmitter) AdmitEvent(ctx context.Context, origin string, eventID string, object event.Object, roomID string) error {
	if t, _ := object.StringField("type"); "m.fail" == t {
		return fault.InvalidSignature
	}
	a.admitted = append(a.admitted, eventID)
	return nil
}

var testAdmitter = &recordingAdmitter{}

func TestMain(m *testing.M) {
	fixtures.SetupTestLogger()
	if err := fixtures.SetupTestStorage(); nil != err {
		fixtures.TeardownTestLogger()
		os.Exit(1)
	}
	if err := Initialise(testAdmitter); nil != err {
		os.Exit(1)
	}

	result := m.Run()

	_ = Finalise()
	fixtures.TeardownTestStorage()
	fixtures.TeardownTestLogger()
	os.Exit(result)
}

func makePDU(t *testing.T, roomID string, eventType string) (string, json.RawMessage) {
	raw, err := json.Marshal(map[string]interface{}{
		"room_id": roomID,
		"type":    eventType,
		"sender":  "@u:remote.example",
		"content": map[string]interface{}{},
	})
	if nil != err {
		t.Fatalf("marshal failed: %s", err)
	}
	eventID, _, err := event.DeriveEventID(raw)
	if nil != err {
		t.Fatalf("derive failed: %s", err)
	}
	return eventID, raw
}

func TestUnknownRoomReported(t *testing.T) {
	eventID, pdu := makePDU(t, "!nowhere:a.example", "m.room.message")

	results, err := ProcessTransaction(context.Background(), "remote.example", []json.RawMessage{pdu}, nil)
	assert.Nil(t, err, "transaction failed")
	assert.Equal(t, "Room is unknown to this server.", results[eventID], "wrong result")
}

func TestAdmission(t *testing.T) {
	const room = "!known:a.example"
	roomstore.SetRoomVersion(room, "6")

	eventID, pdu := makePDU(t, room, "m.room.message")

	results, err := ProcessTransaction(context.Background(), "remote.example", []json.RawMessage{pdu}, nil)
	assert.Nil(t, err, "transaction failed")
	assert.Equal(t, "", results[eventID], "admission reported failure")
	assert.Contains(t, testAdmitter.admitted, eventID, "admitter not called")
}

func TestPerEventIsolation(t *testing.T) {
	const room = "!isolated:a.example"
	roomstore.SetRoomVersion(room, "6")

	goodID, good := makePDU(t, room, "m.room.message")
	badID, bad := makePDU(t, room, "m.fail")
	undecodable := json.RawMessage(`["not","an","object"]`)

	results, err := ProcessTransaction(context.Background(), "remote.example",
		[]json.RawMessage{bad, undecodable, good}, nil)
	assert.Nil(t, err, "transaction failed")
	assert.Equal(t, 2, len(results), "wrong result count")
	assert.Equal(t, "", results[goodID], "good event failed")
	assert.Equal(t, fault.InvalidSignature.Error(), results[badID], "wrong failure message")
}

func TestBadEventBackoff(t *testing.T) {
	const room = "!backoff:a.example"
	roomstore.SetRoomVersion(room, "6")

	eventID, pdu := makePDU(t, room, "m.fail")

	results, _ := ProcessTransaction(context.Background(), "remote.example", []json.RawMessage{pdu}, nil)
	assert.Equal(t, fault.InvalidSignature.Error(), results[eventID], "first attempt not rejected")

	// an immediate retry is refused without calling the admitter
	results, _ = ProcessTransaction(context.Background(), "remote.example", []json.RawMessage{pdu}, nil)
	assert.Equal(t, fault.BadEventBackingOff.Error(), results[eventID], "no backoff on retry")
}

func eduMessage(t *testing.T, eduType string, content interface{}) json.RawMessage {
	packed, err := json.Marshal(map[string]interface{}{
		"edu_type": eduType,
		"content":  content,
	})
	if nil != err {
		t.Fatalf("marshal failed: %s", err)
	}
	return packed
}

func TestTypingEDU(t *testing.T) {
	const room = "!typing:a.example"
	const user = "@typist:remote.example"
	roomstore.SetRoomVersion(room, "6")
	err := roomstore.UpdateMembership(room, user, event.MembershipJoin, "", nil)
	assert.Nil(t, err, "join failed")

	start := eduMessage(t, "m.typing", map[string]interface{}{
		"room_id": room, "user_id": user, "typing": true,
	})
	_, err = ProcessTransaction(context.Background(), "remote.example", nil, []json.RawMessage{start})
	assert.Nil(t, err, "transaction failed")
	assert.Contains(t, TypingUsers(room), user, "typing not recorded")

	// a foreign origin cannot impersonate the user
	_, _ = ProcessTransaction(context.Background(), "other.example", nil, []json.RawMessage{start})

	stop := eduMessage(t, "m.typing", map[string]interface{}{
		"room_id": room, "user_id": user, "typing": false,
	})
	_, err = ProcessTransaction(context.Background(), "remote.example", nil, []json.RawMessage{stop})
	assert.Nil(t, err, "transaction failed")
	assert.NotContains(t, TypingUsers(room), user, "typing not cleared")
}

func TestReceiptEDU(t *testing.T) {
	const room = "!receipt:a.example"
	const user = "@reader:remote.example"
	roomstore.SetRoomVersion(room, "6")
	err := roomstore.UpdateMembership(room, user, event.MembershipJoin, "", nil)
	assert.Nil(t, err, "join failed")

	olderID, older := makePDU(t, room, "m.room.message.one")
	newerID, newer := makePDU(t, room, "m.room.message.two")
	assert.Nil(t, roomstore.PutEvent(olderID, room, older), "put failed")
	assert.Nil(t, roomstore.PutEvent(newerID, room, newer), "put failed")

	receipt := eduMessage(t, "m.receipt", map[string]interface{}{
		room: map[string]interface{}{
			"m.read": map[string]interface{}{
				user: map[string]interface{}{
					"event_ids": []string{newerID, olderID},
					"data":      map[string]interface{}{"ts": 12345},
				},
			},
		},
	})
	_, err = ProcessTransaction(context.Background(), "remote.example", nil, []json.RawMessage{receipt})
	assert.Nil(t, err, "transaction failed")

	stored, ok := roomstore.ReadReceipt(room, user)
	assert.True(t, ok, "receipt not stored")
	assert.Contains(t, string(stored), newerID, "older event won")
}

func TestDirectToDeviceEDU(t *testing.T) {
	const user = "@local:a.example"
	roomstore.AddDevice(user, "DEV1", []byte(`{}`))
	roomstore.AddDevice(user, "DEV2", []byte(`{}`))

	message := eduMessage(t, "m.direct_to_device", map[string]interface{}{
		"sender":     "@sender:remote.example",
		"type":       "m.room_key",
		"message_id": "msg-1",
		"messages": map[string]interface{}{
			user: map[string]interface{}{
				"*": map[string]interface{}{"k": "v"},
			},
		},
	})

	_, err := ProcessTransaction(context.Background(), "remote.example", nil, []json.RawMessage{message})
	assert.Nil(t, err, "transaction failed")
	assert.Equal(t, 1, len(roomstore.ToDeviceMessages(user, "DEV1")), "wildcard missed a device")
	assert.Equal(t, 1, len(roomstore.ToDeviceMessages(user, "DEV2")), "wildcard missed a device")

	// a resent transaction must not duplicate
	_, err = ProcessTransaction(context.Background(), "remote.example", nil, []json.RawMessage{message})
	assert.Nil(t, err, "transaction failed")
	assert.Equal(t, 1, len(roomstore.ToDeviceMessages(user, "DEV1")), "replay duplicated messages")
}

func TestDirectToDeviceSenderScopedReplay(t *testing.T) {
	const user = "@local2:a.example"
	roomstore.AddDevice(user, "PHONE", []byte(`{}`))

	toDevice := func(sender string) json.RawMessage {
		return eduMessage(t, "m.direct_to_device", map[string]interface{}{
			"sender":     sender,
			"type":       "m.room_key",
			"message_id": "shared-id",
			"messages": map[string]interface{}{
				user: map[string]interface{}{
					"PHONE": map[string]interface{}{"k": "v"},
				},
			},
		})
	}

	// two senders on the same origin may reuse a message id
	_, err := ProcessTransaction(context.Background(), "remote.example", nil,
		[]json.RawMessage{toDevice("@alice:remote.example")})
	assert.Nil(t, err, "transaction failed")
	_, err = ProcessTransaction(context.Background(), "remote.example", nil,
		[]json.RawMessage{toDevice("@bob:remote.example")})
	assert.Nil(t, err, "transaction failed")
	assert.Equal(t, 2, len(roomstore.ToDeviceMessages(user, "PHONE")), "second sender deduplicated")

	// but a resend by the same sender is still a replay
	_, err = ProcessTransaction(context.Background(), "remote.example", nil,
		[]json.RawMessage{toDevice("@bob:remote.example")})
	assert.Nil(t, err, "transaction failed")
	assert.Equal(t, 2, len(roomstore.ToDeviceMessages(user, "PHONE")), "replay duplicated messages")
}

func TestDeviceListEDU(t *testing.T) {
	const user = "@gadget:remote.example"

	update := eduMessage(t, "m.device_list_update", map[string]interface{}{
		"user_id": user, "device_id": "DEV", "stream_id": 1,
	})
	_, err := ProcessTransaction(context.Background(), "remote.example", nil, []json.RawMessage{update})
	assert.Nil(t, err, "transaction failed")
	assert.Equal(t, uint64(1), roomstore.DeviceListVersion(user), "version not bumped")

	// foreign origin ignored
	_, _ = ProcessTransaction(context.Background(), "other.example", nil, []json.RawMessage{update})
	assert.Equal(t, uint64(1), roomstore.DeviceListVersion(user), "foreign origin accepted")
}
