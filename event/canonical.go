// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package event

import (
	"bytes"
	"encoding/json"

	"github.com/bitmark-inc/matrixd/fault"
)

// Object - a decoded JSON object preserving exact number
// representation (decoded with json.Number, so re-encoding
// reproduces the original digits)
type Object map[string]interface{}

// DecodeObject - parse raw JSON bytes into an Object
//
// fails if the top level value is not an object
func DecodeObject(data []byte) (Object, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var value interface{}
	if err := decoder.Decode(&value); nil != err {
		return nil, fault.EventNotCanonical
	}

	object, ok := value.(map[string]interface{})
	if !ok {
		return nil, fault.EventNotCanonical
	}
	return Object(object), nil
}

// CompactJSON - encode an Object to canonical JSON
//
// canonical form: object keys in lexicographic order, no
// insignificant whitespace, UTF-8 not escaped
func CompactJSON(object Object) ([]byte, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(map[string]interface{}(object)); nil != err {
		return nil, fault.EventNotCanonical
	}

	// Encode appends a newline that is not part of the canonical form
	return bytes.TrimRight(buffer.Bytes(), "\n"), nil
}

// CanonicalJSON - parse raw JSON and re-encode it canonically
func CanonicalJSON(data []byte) ([]byte, error) {
	object, err := DecodeObject(data)
	if nil != err {
		return nil, err
	}
	return CompactJSON(object)
}

// Copy - a shallow copy of an object, used before deleting
// signatures/unsigned for hashing so the caller keeps the original
func (object Object) Copy() Object {
	duplicate := make(Object, len(object))
	for k, v := range object {
		duplicate[k] = v
	}
	return duplicate
}

// StringField - fetch a field that must be a string
func (object Object) StringField(name string) (string, bool) {
	value, ok := object[name]
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// StringListField - fetch a field that must be a list of strings
func (object Object) StringListField(name string) ([]string, bool) {
	value, ok := object[name]
	if !ok {
		return nil, false
	}
	list, ok := value.([]interface{})
	if !ok {
		return nil, false
	}
	result := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		result = append(result, s)
	}
	return result, true
}
