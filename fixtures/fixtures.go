// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package fixtures - shared test scaffolding
package fixtures

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ed25519"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/matrixd/storage"
)

const (
	dir         = "testing"
	LogCategory = "testing"
)

var (
	ServerName = "a.example"
	KeyID      = "ed25519:test"
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
)

func init() {
	var err error
	PublicKey, PrivateKey, err = ed25519.GenerateKey(nil)
	if nil != err {
		panic(err)
	}
}

func SetupTestLogger() {
	removeFiles()
	_ = os.Mkdir(dir, 0700)

	logging := logger.Configuration{
		Directory: dir,
		File:      fmt.Sprintf("%s.log", LogCategory),
		Size:      1048576,
		Count:     10,
		Console:   false,
		Levels: map[string]string{
			logger.DefaultTag: "critical",
		},
	}

	// start logging
	_ = logger.Initialise(logging)
}

func TeardownTestLogger() {
	logger.Finalise()
	removeFiles()
}

// SetupTestStorage - open a throwaway database under the testing dir
//
// call after SetupTestLogger since storage logs through the panic
// helpers
func SetupTestStorage() error {
	return storage.Initialise(filepath.Join(dir, "test.leveldb"))
}

func TeardownTestStorage() {
	storage.Finalise()
}

func removeFiles() {
	err := os.RemoveAll(dir)
	if nil != err {
		fmt.Println("remove dir with error: ", err)
	}
}
