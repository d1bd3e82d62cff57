// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/ed25519"

	"github.com/bitmark-inc/matrixd/event"
)

func TestLedgerWindowGrowth(t *testing.T) {
	now := time.Unix(1600000000, 0)
	clock = func() time.Time { return now }
	defer func() { clock = time.Now }()

	ledger := NewLedger()
	assert.False(t, ledger.Active("k"), "fresh key backing off")

	// first failure: 30 seconds
	ledger.MarkAttempt("k")
	assert.True(t, ledger.Active("k"), "not backing off after failure")

	now = now.Add(29 * time.Second)
	assert.True(t, ledger.Active("k"), "window ended early")

	now = now.Add(2 * time.Second)
	assert.False(t, ledger.Active("k"), "window did not end")

	// second failure: 30 × 4 = 120 seconds
	ledger.MarkAttempt("k")
	now = now.Add(119 * time.Second)
	assert.True(t, ledger.Active("k"), "quadratic window ended early")
	now = now.Add(2 * time.Second)
	assert.False(t, ledger.Active("k"), "quadratic window did not end")
}

func TestLedgerCap(t *testing.T) {
	now := time.Unix(1600000000, 0)
	clock = func() time.Time { return now }
	defer func() { clock = time.Now }()

	ledger := NewLedger()
	// enough failures that the raw window exceeds a day
	for i := 0; i < 100; i += 1 {
		ledger.MarkAttempt("k")
	}

	now = now.Add(24*time.Hour - time.Second)
	assert.True(t, ledger.Active("k"), "capped window ended early")
	now = now.Add(2 * time.Second)
	assert.False(t, ledger.Active("k"), "window exceeded the cap")
}

func TestLedgerClear(t *testing.T) {
	ledger := NewLedger()
	ledger.MarkAttempt("k")
	assert.True(t, ledger.Active("k"), "not backing off after failure")
	ledger.Clear("k")
	assert.False(t, ledger.Active("k"), "cleared key still backing off")
}

func TestContainsAll(t *testing.T) {
	keys := map[string]string{"ed25519:a": "x", "ed25519:b": "y"}
	assert.True(t, containsAll(keys, nil), "empty requirement failed")
	assert.True(t, containsAll(keys, []string{"ed25519:a"}), "present key missed")
	assert.False(t, containsAll(keys, []string{"ed25519:c"}), "absent key found")
}

func TestBackoffKeyOrderInsensitive(t *testing.T) {
	a := backoffKey("s.example", []string{"ed25519:1", "ed25519:2"})
	b := backoffKey("s.example", []string{"ed25519:2", "ed25519:1"})
	assert.Equal(t, a, b, "key depends on id order")
}

func TestFlattenIncludesOldKeys(t *testing.T) {
	document := keyDocument{
		ServerName: "s.example",
		VerifyKeys: map[string]verifyKey{
			"ed25519:new": {Key: "AAAA"},
		},
		OldVerifyKeys: map[string]oldVerifyKey{
			"ed25519:old": {Key: "BBBB", ExpiredTS: 1},
		},
	}
	keys := document.flatten()
	assert.Equal(t, "AAAA", keys["ed25519:new"], "current key missing")
	assert.Equal(t, "BBBB", keys["ed25519:old"], "old key missing")
}

func TestRequiredKeyIds(t *testing.T) {
	object := event.Object{
		"signatures": map[string]interface{}{
			"s.example": map[string]interface{}{
				"ed25519:2": "sig2",
				"ed25519:1": "sig1",
			},
		},
	}
	assert.Equal(t, []string{"ed25519:1", "ed25519:2"}, RequiredKeyIds(object, "s.example"), "wrong ids")
	assert.Equal(t, 0, len(RequiredKeyIds(object, "other.example")), "ids for wrong server")
}

func TestLocalKeyDocument(t *testing.T) {
	publicKey, privateKey, err := ed25519.GenerateKey(nil)
	assert.Nil(t, err, "key generation failed")

	savedName := globalData.serverName
	savedKeyID := globalData.keyID
	savedPrivate := globalData.privateKey
	savedPublic := globalData.publicKey
	defer func() {
		globalData.serverName = savedName
		globalData.keyID = savedKeyID
		globalData.privateKey = savedPrivate
		globalData.publicKey = savedPublic
	}()

	globalData.serverName = "a.example"
	globalData.keyID = "ed25519:1"
	globalData.privateKey = privateKey
	globalData.publicKey = publicKey
	globalData.initialised = true

	document, err := LocalKeyDocument()
	assert.Nil(t, err, "document build failed")
	assert.Equal(t, "a.example", document["server_name"], "wrong server name")

	verifyKeys := document["verify_keys"].(map[string]interface{})
	entry := verifyKeys["ed25519:1"].(map[string]interface{})
	assert.Equal(t, base64.RawStdEncoding.EncodeToString(publicKey), entry["key"], "wrong published key")

	err = event.VerifyJSON("a.example", "ed25519:1", publicKey, document)
	assert.Nil(t, err, "document signature invalid")
}
