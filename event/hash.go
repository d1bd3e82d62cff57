// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package event

import (
	"crypto/sha256"
	"encoding/base64"
)

// fields that never take part in hashing or signing
var unhashedFields = []string{"signatures", "unsigned"}

// ReferenceHash - the content addressed identity of an event
//
// SHA-256 over the canonical JSON with signatures and unsigned
// removed, returned as unpadded URL-safe base64 (the form used
// inside derived event ids)
func ReferenceHash(object Object) (string, error) {
	stripped := object.Copy()
	for _, field := range unhashedFields {
		delete(stripped, field)
	}

	data, err := CompactJSON(stripped)
	if nil != err {
		return "", err
	}

	digest := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(digest[:]), nil
}

// DeriveEventID - event id for a raw wire format PDU
//
// the id is "$" + reference hash; the canonical object is returned
// as well since every caller needs it for further checks
func DeriveEventID(raw []byte) (string, Object, error) {
	object, err := DecodeObject(raw)
	if nil != err {
		return "", nil, err
	}

	hash, err := ReferenceHash(object)
	if nil != err {
		return "", nil, err
	}

	return "$" + hash, object, nil
}

// ContentHash - hash over the full event excluding signatures,
// unsigned and any previous hashes field; stored under hashes.sha256
// as unpadded standard base64
func ContentHash(object Object) (string, error) {
	stripped := object.Copy()
	for _, field := range unhashedFields {
		delete(stripped, field)
	}
	delete(stripped, "hashes")

	data, err := CompactJSON(stripped)
	if nil != err {
		return "", err
	}

	digest := sha256.Sum256(data)
	return base64.RawStdEncoding.EncodeToString(digest[:]), nil
}
