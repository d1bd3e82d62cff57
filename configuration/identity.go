// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package configuration

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	"golang.org/x/crypto/ed25519"

	"github.com/bitmark-inc/matrixd/fault"
)

// identity file layout, one line:
//
//	ed25519 NAME BASE64-SEED
//
// the key id on the wire is "ed25519:NAME"
const identityAlgorithm = "ed25519"

// ReadIdentityFile - load the server's signing key
func ReadIdentityFile(fileName string) (string, ed25519.PrivateKey, error) {
	data, err := ioutil.ReadFile(fileName)
	if nil != err {
		return "", nil, err
	}

	fields := strings.Fields(string(data))
	if 3 != len(fields) || identityAlgorithm != fields[0] {
		return "", nil, fault.InvalidPrivateKey
	}

	seed, err := base64.RawStdEncoding.DecodeString(fields[2])
	if nil != err || ed25519.SeedSize != len(seed) {
		return "", nil, fault.InvalidPrivateKey
	}

	keyID := identityAlgorithm + ":" + fields[1]
	return keyID, ed25519.NewKeyFromSeed(seed), nil
}

// MakeIdentityFile - create a new signing key
//
// refuses to overwrite an existing file
func MakeIdentityFile(fileName string) error {
	if _, err := os.Stat(fileName); nil == err {
		return fault.KeyFileAlreadyExists
	}

	name := make([]byte, 4)
	if _, err := rand.Read(name); nil != err {
		return err
	}
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); nil != err {
		return err
	}

	line := fmt.Sprintf("%s %x %s\n",
		identityAlgorithm,
		name,
		base64.RawStdEncoding.EncodeToString(seed),
	)
	return ioutil.WriteFile(fileName, []byte(line), 0600)
}
