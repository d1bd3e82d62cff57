// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package event

import (
	"encoding/base64"

	"golang.org/x/crypto/ed25519"

	"github.com/bitmark-inc/matrixd/fault"
)

// SignJSON - sign the canonical form of an object and merge the
// signature into its signatures field
//
// signatures are computed with the signatures and unsigned fields
// removed, so signing is stable no matter how many servers have
// already signed
func SignJSON(serverName string, keyID string, privateKey ed25519.PrivateKey, object Object) error {
	if ed25519.PrivateKeySize != len(privateKey) {
		return fault.InvalidPrivateKey
	}

	stripped := object.Copy()
	for _, field := range unhashedFields {
		delete(stripped, field)
	}

	data, err := CompactJSON(stripped)
	if nil != err {
		return err
	}

	signature := ed25519.Sign(privateKey, data)
	encoded := base64.RawStdEncoding.EncodeToString(signature)

	signatures, ok := object["signatures"].(map[string]interface{})
	if !ok {
		signatures = make(map[string]interface{})
	}
	byServer, ok := signatures[serverName].(map[string]interface{})
	if !ok {
		byServer = make(map[string]interface{})
	}
	byServer[keyID] = encoded
	signatures[serverName] = byServer
	object["signatures"] = signatures

	return nil
}

// VerifyJSON - check one signature on an object
func VerifyJSON(serverName string, keyID string, publicKey ed25519.PublicKey, object Object) error {
	if ed25519.PublicKeySize != len(publicKey) {
		return fault.InvalidPublicKey
	}

	signatures, ok := object["signatures"].(map[string]interface{})
	if !ok {
		return fault.MissingSignatures
	}
	byServer, ok := signatures[serverName].(map[string]interface{})
	if !ok {
		return fault.MissingSignatures
	}
	encoded, ok := byServer[keyID].(string)
	if !ok {
		return fault.MissingSignatures
	}
	signature, err := base64.RawStdEncoding.DecodeString(encoded)
	if nil != err {
		return fault.InvalidSignature
	}

	stripped := object.Copy()
	for _, field := range unhashedFields {
		delete(stripped, field)
	}

	data, err := CompactJSON(stripped)
	if nil != err {
		return err
	}

	if !ed25519.Verify(publicKey, data, signature) {
		return fault.InvalidSignature
	}
	return nil
}

// HashAndSignEvent - add the content hash then sign, used when this
// server originates or countersigns an event
func HashAndSignEvent(serverName string, keyID string, privateKey ed25519.PrivateKey, object Object) error {
	contentHash, err := ContentHash(object)
	if nil != err {
		return err
	}
	object["hashes"] = map[string]interface{}{"sha256": contentHash}

	return SignJSON(serverName, keyID, privateKey, object)
}

// VerifyContentHash - check that the hashes.sha256 field matches the
// event content
func VerifyContentHash(object Object) error {
	hashes, ok := object["hashes"].(map[string]interface{})
	if !ok {
		return fault.InvalidSignature
	}
	declared, ok := hashes["sha256"].(string)
	if !ok {
		return fault.InvalidSignature
	}

	computed, err := ContentHash(object)
	if nil != err {
		return err
	}
	if computed != declared {
		return fault.InvalidSignature
	}
	return nil
}
