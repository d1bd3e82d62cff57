// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keyring - remote server verification keys
//
// keys are found in order: memory cache, database, the server
// itself, then the configured notary servers.  Only one fetch per
// remote server runs at a time; waiters re-check the cache once the
// permit is theirs.  Repeated failures back off quadratically so an
// unreachable or hostile server cannot be hammered.
package keyring
