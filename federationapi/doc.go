// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package federationapi - the inbound federation HTTPS surface
//
// all endpoints except version and key serving require a valid
// X-Matrix signature; the signer's name is the identity every
// room-level permission check runs against
package federationapi
