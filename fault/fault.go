// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fault

import "fmt"

// GenericError - error base
type GenericError string

// to allow for different classes of errors
type (
	// ExistsError - already exists or already set up
	ExistsError GenericError

	// InvalidError - failed local validation of a request subject
	InvalidError GenericError

	// NotFoundError - referenced item is absent
	NotFoundError GenericError

	// ProcessError - local processing failure
	ProcessError GenericError

	// AccessDeniedError - room ACL or membership denies the caller
	AccessDeniedError GenericError

	// DisabledError - operation administratively disabled
	DisabledError GenericError

	// DatabaseError - local storage invariant violated
	DatabaseError GenericError

	// ResponseError - malformed or unverifiable response from a peer,
	// or an exhausted fetch/backoff sequence
	ResponseError GenericError
)

// common errors - keep in alphabetic order
var (
	AlreadyInitialised        = ExistsError("already initialised")
	BadServerResponse         = ResponseError("server returned a bad response")
	BadSignatureBackingOff    = ResponseError("bad signature, still backing off")
	BadEventBackingOff        = ResponseError("bad event, still backing off")
	CannotAcceptPdu           = InvalidError("could not accept incoming pdu")
	CertificateFileExists     = ExistsError("certificate file already exists")
	DestinationNotValid       = ResponseError("invalid destination")
	EventNotCanonical         = InvalidError("event cannot be converted to canonical json")
	EventNotFound             = NotFoundError("event not found")
	EvilEventInDatabase       = DatabaseError("evil event in database")
	EvilEventDetected         = InvalidError("evil event detected")
	FederationDisabled        = DisabledError("federation is disabled")
	IncompatibleRoomVersion   = InvalidError("room version not supported")
	KeyFileAlreadyExists      = ExistsError("key file already exists")
	InvalidCount              = InvalidError("count is invalid")
	InvalidEventInDatabase    = DatabaseError("invalid event in database")
	InvalidIpAddress          = InvalidError("invalid ip address")
	InvalidPortNumber         = InvalidError("invalid port number")
	InvalidPrivateKey         = InvalidError("invalid private key")
	InvalidPublicKey          = InvalidError("invalid public key")
	InvalidRoomId             = InvalidError("event needs a valid room id")
	InvalidSignature          = InvalidError("invalid signature")
	InvalidStateKey           = InvalidError("state_key is not a user id")
	InvalidSender             = InvalidError("sender is not a user id")
	MissingOriginField        = InvalidError("event needs an origin field")
	MissingSenderField        = InvalidError("event had no sender field")
	MissingSignatures         = ResponseError("no signatures in pdu")
	MissingStateKeyField      = InvalidError("event had no state_key field")
	NotInitialised            = NotFoundError("not initialised")
	NoPublicKeyForServer      = ResponseError("failed to find public key for server")
	RateLimiting              = ProcessError("rate limiting active")
	RestrictedRoomUnsupported = InvalidError("restricted rooms are not supported")
	RoomAliasNotFound         = NotFoundError("room alias not found")
	RoomUnknown               = NotFoundError("room is unknown to this server")
	ServerDeniedByAcl         = AccessDeniedError("server was denied by room acl")
	ServerNotInRoom           = AccessDeniedError("server is not in room")
	StateNotFound             = NotFoundError("pdu state not found")
	UnauthorisedRequest       = AccessDeniedError("request signature verification failed")
)

// the error interface base method
func (e GenericError) Error() string { return string(e) }

// the error interface methods
func (e ExistsError) Error() string       { return string(e) }
func (e InvalidError) Error() string      { return string(e) }
func (e NotFoundError) Error() string     { return string(e) }
func (e ProcessError) Error() string      { return string(e) }
func (e AccessDeniedError) Error() string { return string(e) }
func (e DisabledError) Error() string     { return string(e) }
func (e DatabaseError) Error() string     { return string(e) }
func (e ResponseError) Error() string     { return string(e) }

// determine the class of an error
func IsErrExists(e error) bool       { _, ok := e.(ExistsError); return ok }
func IsErrInvalid(e error) bool      { _, ok := e.(InvalidError); return ok }
func IsErrNotFound(e error) bool     { _, ok := e.(NotFoundError); return ok }
func IsErrProcess(e error) bool      { _, ok := e.(ProcessError); return ok }
func IsErrAccessDenied(e error) bool { _, ok := e.(AccessDeniedError); return ok }
func IsErrDisabled(e error) bool     { _, ok := e.(DisabledError); return ok }
func IsErrDatabase(e error) bool     { _, ok := e.(DatabaseError); return ok }
func IsErrResponse(e error) bool     { _, ok := e.(ResponseError); return ok }

// RemoteError - a structured non-2xx error returned by a federation
// peer, tagged with the server it came from
type RemoteError struct {
	Origin  string // server name the error originated from
	Code    string // protocol error code, e.g. "M_FORBIDDEN"
	Message string // human readable message from the peer
}

// the error interface method
func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s from %s: %s", e.Code, e.Origin, e.Message)
}

// IsErrRemote - determine if an error is a peer supplied error
func IsErrRemote(e error) bool { _, ok := e.(*RemoteError); return ok }
