// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_util "github.com/syndtr/goleveldb/leveldb/util"

	"github.com/bitmark-inc/logger"
)

// PoolHandle - access to one prefixed table of the database
type PoolHandle struct {
	prefix byte
}

// Element - a binary key/value data item
type Element struct {
	Key   []byte
	Value []byte
}

// prepend the prefix onto the key
func (p *PoolHandle) prefixKey(key []byte) []byte {
	prefixedKey := make([]byte, 1, len(key)+1)
	prefixedKey[0] = p.prefix
	return append(prefixedKey, key...)
}

// Put - store a key/value bytes pair to the database
func (p *PoolHandle) Put(key []byte, value []byte) {
	poolData.RLock()
	defer poolData.RUnlock()
	if nil == poolData.db {
		logger.Panic("pool.Put nil database")
		return
	}
	err := poolData.db.Put(p.prefixKey(key), value, nil)
	logger.PanicIfError("pool.Put", err)
}

// PutN - store an 8 byte big endian value
func (p *PoolHandle) PutN(key []byte, value uint64) {
	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, value)
	p.Put(key, buffer)
}

// Delete - remove a key from the database
func (p *PoolHandle) Delete(key []byte) {
	poolData.RLock()
	defer poolData.RUnlock()
	if nil == poolData.db {
		logger.Panic("pool.Delete nil database")
		return
	}
	err := poolData.db.Delete(p.prefixKey(key), nil)
	logger.PanicIfError("pool.Delete", err)
}

// Get - read a value for a given key
//
// this returns the actual element - copy the result if it must be preserved
func (p *PoolHandle) Get(key []byte) []byte {
	poolData.RLock()
	defer poolData.RUnlock()
	if nil == poolData.db {
		logger.Panic("pool.Get nil database")
		return nil
	}
	value, err := poolData.db.Get(p.prefixKey(key), nil)
	if leveldb.ErrNotFound == err {
		return nil
	}
	logger.PanicIfError("pool.Get", err)
	return value
}

// GetN - read an 8 byte big endian value
//
// second return value is false if the record was missing
func (p *PoolHandle) GetN(key []byte) (uint64, bool) {
	value := p.Get(key)
	if nil == value || 8 != len(value) {
		return 0, false
	}
	return binary.BigEndian.Uint64(value), true
}

// Has - check if a key exists
func (p *PoolHandle) Has(key []byte) bool {
	poolData.RLock()
	defer poolData.RUnlock()
	if nil == poolData.db {
		logger.Panic("pool.Has nil database")
		return false
	}
	value, err := poolData.db.Has(p.prefixKey(key), nil)
	logger.PanicIfError("pool.Has", err)
	return value
}

// Fetch - return all elements whose key starts with the given bytes
//
// a limit of zero or less fetches everything; keys are returned with
// the pool prefix removed
func (p *PoolHandle) Fetch(keyPrefix []byte, limit int) []Element {
	poolData.RLock()
	defer poolData.RUnlock()
	if nil == poolData.db {
		logger.Panic("pool.Fetch nil database")
		return nil
	}

	iterator := poolData.db.NewIterator(ldb_util.BytesPrefix(p.prefixKey(keyPrefix)), nil)
	defer iterator.Release()

	results := make([]Element, 0, 16)
	for iterator.Next() {
		if limit > 0 && len(results) >= limit {
			break
		}

		// the iterator reuses its buffers
		key := make([]byte, len(iterator.Key())-1)
		copy(key, iterator.Key()[1:])
		value := make([]byte, len(iterator.Value()))
		copy(value, iterator.Value())

		results = append(results, Element{Key: key, Value: value})
	}

	return results
}
