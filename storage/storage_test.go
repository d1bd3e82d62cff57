// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bitmark-inc/matrixd/storage"
)

const testingDir = "testing"

func setup(t *testing.T) {
	_ = os.RemoveAll(testingDir)
	if err := os.Mkdir(testingDir, 0700); nil != err {
		t.Fatalf("mkdir failed: %s", err)
	}
	if err := storage.Initialise(filepath.Join(testingDir, "test.leveldb")); nil != err {
		t.Fatalf("storage initialise failed: %s", err)
	}
}

func teardown(t *testing.T) {
	storage.Finalise()
	_ = os.RemoveAll(testingDir)
}

func TestPutGetDelete(t *testing.T) {
	setup(t)
	defer teardown(t)

	key := []byte("$some-event-id")
	value := []byte(`{"room_id":"!r:a.example"}`)

	p := storage.Pool.Events
	assert.False(t, p.Has(key), "unexpected element")

	p.Put(key, value)
	assert.True(t, p.Has(key), "missing element")
	assert.Equal(t, value, p.Get(key), "wrong value")

	p.Delete(key)
	assert.False(t, p.Has(key), "element survived delete")
	assert.Nil(t, p.Get(key), "value survived delete")
}

// pools with distinct prefixes must not see each other's records
func TestPoolIsolation(t *testing.T) {
	setup(t)
	defer teardown(t)

	key := []byte("shared-key")

	storage.Pool.Events.Put(key, []byte("events"))
	storage.Pool.ServerKeys.Put(key, []byte("keys"))

	assert.Equal(t, []byte("events"), storage.Pool.Events.Get(key), "events pool polluted")
	assert.Equal(t, []byte("keys"), storage.Pool.ServerKeys.Get(key), "keys pool polluted")

	storage.Pool.Events.Delete(key)
	assert.True(t, storage.Pool.ServerKeys.Has(key), "delete crossed pools")
}

func TestFetchByPrefix(t *testing.T) {
	setup(t)
	defer teardown(t)

	room := "!room:a.example"
	servers := []string{"a.example", "b.example", "c.example"}

	for _, server := range servers {
		key := append([]byte(room), 0x00)
		key = append(key, server...)
		storage.Pool.RoomServers.Put(key, []byte{})
	}

	// a different room must not appear in the scan
	other := append([]byte("!other:a.example"), 0x00)
	other = append(other, "z.example"...)
	storage.Pool.RoomServers.Put(other, []byte{})

	elements := storage.Pool.RoomServers.Fetch(append([]byte(room), 0x00), 0)
	assert.Equal(t, len(servers), len(elements), "wrong element count")

	limited := storage.Pool.RoomServers.Fetch(append([]byte(room), 0x00), 2)
	assert.Equal(t, 2, len(limited), "limit not applied")
}

func TestNumericValues(t *testing.T) {
	setup(t)
	defer teardown(t)

	key := []byte("@user:a.example")

	_, ok := storage.Pool.DeviceListVersion.GetN(key)
	assert.False(t, ok, "unexpected numeric value")

	storage.Pool.DeviceListVersion.PutN(key, 42)
	n, ok := storage.Pool.DeviceListVersion.GetN(key)
	assert.True(t, ok, "missing numeric value")
	assert.Equal(t, uint64(42), n, "wrong numeric value")
}

// short ids are dense and strictly increasing
func TestNextShortId(t *testing.T) {
	setup(t)
	defer teardown(t)

	previous := uint64(0)
	for i := 0; i < 10; i += 1 {
		id, err := storage.NextShortId()
		assert.Nil(t, err, "allocation failed")
		assert.Equal(t, previous+1, id, fmt.Sprintf("gap at allocation %d", i))
		previous = id
	}
}
