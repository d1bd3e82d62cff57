// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package roomstore - typed access to the room and event pools
//
// the federation pipeline never touches raw storage keys; every
// record layout is decided here
package roomstore
