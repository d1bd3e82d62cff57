// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package event_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/ed25519"

	"github.com/bitmark-inc/matrixd/event"
	"github.com/bitmark-inc/matrixd/fault"
)

// canonical form must sort keys, drop whitespace and keep exact
// integer representation
func TestCanonicalJSON(t *testing.T) {

	type testItem struct {
		id       int
		in       string
		expected string
	}

	testData := []testItem{
		{
			id:       1,
			in:       `{"b": 2, "a": 1}`,
			expected: `{"a":1,"b":2}`,
		},
		{
			id:       2,
			in:       `{"one": {"nested": [1, 2, 3],  "x": "y"}}`,
			expected: `{"one":{"nested":[1,2,3],"x":"y"}}`,
		},
		{
			id:       3,
			in:       `{"ts": 1662947418000}`,
			expected: `{"ts":1662947418000}`,
		},
		{
			id:       4,
			in:       `{"a": "<&>"}`,
			expected: `{"a":"<&>"}`,
		},
	}

	for _, item := range testData {
		actual, err := event.CanonicalJSON([]byte(item.in))
		assert.Nil(t, err, "item %d: canonicalise failed", item.id)
		assert.Equal(t, item.expected, string(actual), "item %d", item.id)
	}

	_, err := event.CanonicalJSON([]byte(`["not", "an", "object"]`))
	assert.Equal(t, fault.EventNotCanonical, err, "top level array accepted")

	_, err = event.CanonicalJSON([]byte(`{"broken": `))
	assert.Equal(t, fault.EventNotCanonical, err, "truncated json accepted")
}

// the derived event id must be insensitive to signatures and unsigned
func TestDeriveEventID(t *testing.T) {

	raw := []byte(`{"room_id":"!room:a.example","sender":"@u:a.example","type":"m.room.message","content":{"body":"hi"}}`)
	rawSigned := []byte(`{"room_id":"!room:a.example","sender":"@u:a.example","type":"m.room.message","content":{"body":"hi"},"signatures":{"a.example":{"ed25519:1":"xxxx"}},"unsigned":{"age":12}}`)

	id1, _, err := event.DeriveEventID(raw)
	assert.Nil(t, err, "derive failed")
	id2, _, err := event.DeriveEventID(rawSigned)
	assert.Nil(t, err, "derive failed")

	assert.Equal(t, id1, id2, "signatures altered the event id")
	assert.Equal(t, byte('$'), id1[0], "event id missing sigil")
}

func TestSignAndVerify(t *testing.T) {

	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	assert.Nil(t, err, "keygen failed")

	object, err := event.DecodeObject([]byte(`{"room_id":"!room:a.example","type":"m.room.member","content":{"membership":"join"}}`))
	assert.Nil(t, err, "decode failed")

	err = event.SignJSON("a.example", "ed25519:1", privateKey, object)
	assert.Nil(t, err, "sign failed")

	err = event.VerifyJSON("a.example", "ed25519:1", publicKey, object)
	assert.Nil(t, err, "verify failed")

	// verification by the wrong key must fail
	otherPublic, _, _ := ed25519.GenerateKey(rand.Reader)
	err = event.VerifyJSON("a.example", "ed25519:1", otherPublic, object)
	assert.Equal(t, fault.InvalidSignature, err, "wrong key accepted")

	// unknown key id must be treated as missing signature
	err = event.VerifyJSON("a.example", "ed25519:2", publicKey, object)
	assert.Equal(t, fault.MissingSignatures, err, "unknown key id accepted")
}

func TestHashAndSignEvent(t *testing.T) {

	_, privateKey, _ := ed25519.GenerateKey(rand.Reader)

	object, err := event.DecodeObject([]byte(`{"room_id":"!room:a.example","type":"m.room.member","sender":"@u:b.example","content":{"membership":"join"}}`))
	assert.Nil(t, err, "decode failed")

	err = event.HashAndSignEvent("a.example", "ed25519:1", privateKey, object)
	assert.Nil(t, err, "hash and sign failed")

	assert.Nil(t, event.VerifyContentHash(object), "content hash mismatch")

	// tampering must break the content hash
	object["content"] = map[string]interface{}{"membership": "leave"}
	assert.NotNil(t, event.VerifyContentHash(object), "tampered hash accepted")
}

func TestIdentifierValidation(t *testing.T) {

	assert.True(t, event.IsValidRoomID("!abc:a.example"), "valid room id rejected")
	assert.False(t, event.IsValidRoomID("abc:a.example"), "missing sigil accepted")
	assert.False(t, event.IsValidRoomID("!abc"), "missing server accepted")

	assert.True(t, event.IsValidUserID("@user:a.example"), "valid user id rejected")
	assert.False(t, event.IsValidUserID("user:a.example"), "missing sigil accepted")

	assert.Equal(t, "a.example", event.UserServer("@user:a.example"), "wrong user server")
}

func TestOutgoingProjection(t *testing.T) {

	object, _ := event.DecodeObject([]byte(`{"event_id":"$x","unsigned":{"age":1},"type":"m.room.member","content":{"membership":"join"},"state_key":"@u:a.example","sender":"@u:a.example"}`))

	outgoing := event.ToOutgoingFederationEvent(object)
	_, hasEventID := outgoing["event_id"]
	_, hasUnsigned := outgoing["unsigned"]
	assert.False(t, hasEventID, "event_id leaked to the wire")
	assert.False(t, hasUnsigned, "unsigned leaked to the wire")

	stripped := event.ToStrippedStateEvent(object)
	assert.Equal(t, 4, len(stripped), "stripped event has wrong field count")
	_, hasSender := stripped["sender"]
	assert.True(t, hasSender, "stripped event lost sender")
}
