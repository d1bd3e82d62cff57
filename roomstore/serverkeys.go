// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package roomstore

import (
	"encoding/json"

	"github.com/bitmark-inc/matrixd/storage"
)

// ServerKeys - all persisted verification keys of a remote server
// as key id -> unpadded base64 public key
//
// keys are only ever added: the protocol treats a published key as
// valid indefinitely unless superseded
func ServerKeys(serverName string) map[string]string {
	value := storage.Pool.ServerKeys.Get([]byte(serverName))
	if nil == value {
		return map[string]string{}
	}
	keys := map[string]string{}
	if err := json.Unmarshal(value, &keys); nil != err {
		return map[string]string{}
	}
	return keys
}

// MergeServerKeys - add newly learned verification keys, returning
// the merged set
func MergeServerKeys(serverName string, newKeys map[string]string) (map[string]string, error) {
	keys := ServerKeys(serverName)
	for id, key := range newKeys {
		keys[id] = key
	}
	packed, err := json.Marshal(keys)
	if nil != err {
		return nil, err
	}
	storage.Pool.ServerKeys.Put([]byte(serverName), packed)
	return keys, nil
}
