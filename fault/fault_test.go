// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fault_test

import (
	"testing"

	"github.com/bitmark-inc/matrixd/fault"
)

// test that each class is correctly detected
func TestClassification(t *testing.T) {

	errInvalid := fault.InvalidError("just invalid")
	errDenied := fault.AccessDeniedError("just denied")
	errDisabled := fault.DisabledError("just disabled")
	errResponse := fault.ResponseError("just bad response")

	if !fault.IsErrInvalid(errInvalid) {
		t.Errorf("invalid error not classified as invalid")
	}
	if fault.IsErrInvalid(errDenied) {
		t.Errorf("denied error classified as invalid")
	}
	if !fault.IsErrAccessDenied(errDenied) {
		t.Errorf("denied error not classified as denied")
	}
	if !fault.IsErrDisabled(errDisabled) {
		t.Errorf("disabled error not classified as disabled")
	}
	if !fault.IsErrResponse(errResponse) {
		t.Errorf("response error not classified as response")
	}
}

// remote errors carry their origin
func TestRemoteError(t *testing.T) {

	var e error = &fault.RemoteError{
		Origin:  "remote.example",
		Code:    "M_FORBIDDEN",
		Message: "denied",
	}

	if !fault.IsErrRemote(e) {
		t.Fatalf("remote error not classified as remote")
	}

	expected := "M_FORBIDDEN from remote.example: denied"
	if expected != e.Error() {
		t.Errorf("actual: %q  expected: %q", e.Error(), expected)
	}
}
