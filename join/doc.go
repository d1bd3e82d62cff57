// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package join - membership handshakes with remote servers
//
// make_join builds an unsigned-by-them, signed-by-us template under
// the room's state lock; send_join verifies and admits the returned
// event and answers with the state and auth chain as they were
// before the join; invites are countersigned and recorded for rooms
// this server does not participate in yet.
package join
