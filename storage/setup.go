// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"encoding/binary"
	"reflect"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/bitmark-inc/matrixd/fault"
)

// exported storage pools
//
// note all must be exported (i.e. initial capital) or initialisation will panic
type pools struct {
	Events            *PoolHandle `prefix:"E"`
	EventShortId      *PoolHandle `prefix:"S"`
	ShortIdEvent      *PoolHandle `prefix:"s"`
	EventPosition     *PoolHandle `prefix:"P"`
	RoomVersions      *PoolHandle `prefix:"v"`
	RoomStateHash     *PoolHandle `prefix:"R"`
	StateSnapshots    *PoolHandle `prefix:"H"`
	RoomCurrentState  *PoolHandle `prefix:"C"`
	RoomServers       *PoolHandle `prefix:"J"`
	Membership        *PoolHandle `prefix:"M"`
	RoomAliases       *PoolHandle `prefix:"A"`
	ServerKeys        *PoolHandle `prefix:"K"`
	TransactionIds    *PoolHandle `prefix:"T"`
	Receipts          *PoolHandle `prefix:"r"`
	Devices           *PoolHandle `prefix:"d"`
	ToDeviceMessages  *PoolHandle `prefix:"D"`
	DeviceListVersion *PoolHandle `prefix:"V"`
}

// Pool - the set of exported pools
var Pool pools

// for database version
var versionKey = []byte{0x00, 'V', 'E', 'R', 'S', 'I', 'O', 'N'}

const currentDBVersion = 0x100

// key for the short id allocation counter
var nextShortIdKey = []byte{'N'}

// holds the database handle
var poolData struct {
	sync.RWMutex
	db *leveldb.DB

	// set once during initialise
	initialised bool
}

// Initialise - open up the database connection
//
// this must be called before any pool is accessed
func Initialise(database string) error {
	poolData.Lock()
	defer poolData.Unlock()

	if poolData.initialised {
		return fault.AlreadyInitialised
	}

	db, err := leveldb.OpenFile(database, &ldb_opt.Options{
		ErrorIfExist: false,
	})
	if nil != err {
		return err
	}

	// ensure no database downgrade
	versionValue, err := db.Get(versionKey, nil)
	if leveldb.ErrNotFound == err {
		version := make([]byte, 4)
		binary.BigEndian.PutUint32(version, currentDBVersion)
		if err := db.Put(versionKey, version, nil); nil != err {
			db.Close()
			return err
		}
	} else if nil != err {
		db.Close()
		return err
	} else {
		version := binary.BigEndian.Uint32(versionValue)
		if currentDBVersion != version {
			db.Close()
			return fault.DatabaseError("incompatible database version")
		}
	}

	poolData.db = db

	// this will be a struct type
	poolType := reflect.TypeOf(Pool)

	// get write access by using pointer + Elem()
	poolValue := reflect.ValueOf(&Pool).Elem()

	// scan each field to locate its prefix tag
	for i := 0; i < poolType.NumField(); i += 1 {

		fieldInfo := poolType.Field(i)
		prefixTag := fieldInfo.Tag.Get("prefix")
		if 1 != len(prefixTag) {
			db.Close()
			poolData.db = nil
			return fault.DatabaseError("pool: " + fieldInfo.Name + " has invalid prefix: " + prefixTag)
		}

		handle := &PoolHandle{
			prefix: prefixTag[0],
		}
		poolValue.Field(i).Set(reflect.ValueOf(handle))
	}

	poolData.initialised = true
	return nil
}

// Finalise - close the database connection
func Finalise() {
	poolData.Lock()
	defer poolData.Unlock()

	if !poolData.initialised {
		return
	}

	poolData.db.Close()
	poolData.db = nil
	poolData.initialised = false
}

// NextShortId - allocate the next short id, monotonically increasing
// starting from 1
func NextShortId() (uint64, error) {
	poolData.Lock()
	defer poolData.Unlock()

	if nil == poolData.db {
		return 0, fault.NotInitialised
	}

	next := uint64(1)
	value, err := poolData.db.Get(nextShortIdKey, nil)
	if nil == err {
		next = binary.BigEndian.Uint64(value) + 1
	} else if leveldb.ErrNotFound != err {
		return 0, err
	}

	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, next)
	if err := poolData.db.Put(nextShortIdKey, buffer, nil); nil != err {
		return 0, err
	}
	return next, nil
}
