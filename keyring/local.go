// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"encoding/base64"
	"time"

	"github.com/bitmark-inc/matrixd/event"
	"github.com/bitmark-inc/matrixd/fault"
)

// published key documents are valid for a week
const keyValidity = 7 * 24 * time.Hour

// LocalKeyDocument - this server's signed key document
//
// built fresh on every request so valid_until_ts keeps moving
func LocalKeyDocument() (event.Object, error) {
	globalData.RLock()
	defer globalData.RUnlock()

	if !globalData.initialised {
		return nil, fault.NotInitialised
	}

	document := event.Object{
		"server_name": globalData.serverName,
		"verify_keys": map[string]interface{}{
			globalData.keyID: map[string]interface{}{
				"key": base64.RawStdEncoding.EncodeToString(globalData.publicKey),
			},
		},
		"old_verify_keys": map[string]interface{}{},
		"valid_until_ts":  clock().Add(keyValidity).UnixNano() / int64(time.Millisecond),
	}

	err := event.SignJSON(globalData.serverName, globalData.keyID, globalData.privateKey, document)
	if nil != err {
		return nil, err
	}
	return document, nil
}

// ServerName - the configured local server name
func ServerName() string {
	globalData.RLock()
	defer globalData.RUnlock()
	return globalData.serverName
}

// KeyID - the configured local signing key id
func KeyID() string {
	globalData.RLock()
	defer globalData.RUnlock()
	return globalData.keyID
}

// SignEventObject - hash and sign an event built by this server
func SignEventObject(object event.Object) error {
	globalData.RLock()
	defer globalData.RUnlock()

	if !globalData.initialised {
		return fault.NotInitialised
	}
	return event.HashAndSignEvent(globalData.serverName, globalData.keyID, globalData.privateKey, object)
}

// SignObject - add this server's signature to an already hashed
// object, such as a join event built by another server
func SignObject(object event.Object) error {
	globalData.RLock()
	defer globalData.RUnlock()

	if !globalData.initialised {
		return fault.NotInitialised
	}
	return event.SignJSON(globalData.serverName, globalData.keyID, globalData.privateKey, object)
}
