// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package event - persistent data units (PDUs)
//
// a PDU is a content addressed room event: its id is not transmitted
// on the wire but derived as the reference hash of the canonical JSON
// form with the signatures and unsigned fields removed
//
// all signing and verification is over the same canonical form, so
// the canonical encoder here is the trust root of the whole daemon
package event
