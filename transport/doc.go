// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package transport - signed federation HTTP dispatch
//
// every outbound request is signed with the server's ed25519 key and
// carries one X-Matrix Authorization header per signature.  Resolved
// destinations are cached, but only after the first request to a
// freshly resolved destination succeeds, so a bad resolution is
// retried rather than pinned.
package transport
