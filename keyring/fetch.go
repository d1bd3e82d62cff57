// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"context"
	"encoding/base64"
	"sort"
	"strings"
	"sync"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/crypto/ed25519"

	"github.com/bitmark-inc/matrixd/event"
	"github.com/bitmark-inc/matrixd/fault"
	"github.com/bitmark-inc/matrixd/roomstore"
	"github.com/bitmark-inc/matrixd/transport"
)

// key document served at /_matrix/key/v2/server
type verifyKey struct {
	Key string `json:"key"`
}

type oldVerifyKey struct {
	Key       string `json:"key"`
	ExpiredTS int64  `json:"expired_ts"`
}

type keyDocument struct {
	ServerName    string                  `json:"server_name"`
	VerifyKeys    map[string]verifyKey    `json:"verify_keys"`
	OldVerifyKeys map[string]oldVerifyKey `json:"old_verify_keys"`
	ValidUntilTS  int64                   `json:"valid_until_ts"`
}

type notaryResponse struct {
	ServerKeys []keyDocument `json:"server_keys"`
}

// current and old keys flattened to key id → base64 public key
func (document keyDocument) flatten() map[string]string {
	keys := map[string]string{}
	for id, key := range document.VerifyKeys {
		keys[id] = key.Key
	}
	for id, key := range document.OldVerifyKeys {
		keys[id] = key.Key
	}
	return keys
}

func containsAll(keys map[string]string, requiredKeyIds []string) bool {
	for _, id := range requiredKeyIds {
		if _, ok := keys[id]; !ok {
			return false
		}
	}
	return true
}

func backoffKey(serverName string, requiredKeyIds []string) string {
	ids := make([]string, len(requiredKeyIds))
	copy(ids, requiredKeyIds)
	sort.Strings(ids)
	return serverName + "|" + strings.Join(ids, ",")
}

// FetchKeys - verification keys of a remote server, as key id →
// base64 public key, guaranteed to cover requiredKeyIds on success
func FetchKeys(ctx context.Context, serverName string, requiredKeyIds []string) (map[string]string, error) {
	if !globalData.initialised {
		return nil, fault.NotInitialised
	}

	log := globalData.log

	permit := permitFor(serverName)
	if err := permit.Acquire(ctx, 1); nil != err {
		return nil, err
	}
	defer permit.Release(1)

	// an earlier holder of the permit may have done the work
	if cached, ok := globalData.cache.Get(serverName); ok {
		keys := cached.(map[string]string)
		if containsAll(keys, requiredKeyIds) {
			return keys, nil
		}
	}

	ledgerKey := backoffKey(serverName, requiredKeyIds)

	keys := roomstore.ServerKeys(serverName)
	if containsAll(keys, requiredKeyIds) {
		globalData.cache.Set(serverName, keys, gocache.DefaultExpiration)
		globalData.backoff.Clear(ledgerKey)
		return keys, nil
	}

	if globalData.backoff.Active(ledgerKey) {
		return nil, fault.BadSignatureBackingOff
	}

	log.Infof("fetching keys: %q %v", serverName, requiredKeyIds)

	document := keyDocument{}
	err := transport.SendRequest(ctx, serverName, "GET", "/_matrix/key/v2/server", nil, &document)
	if nil == err {
		keys, err = roomstore.MergeServerKeys(serverName, document.flatten())
		if nil != err {
			return nil, err
		}
		if containsAll(keys, requiredKeyIds) {
			globalData.cache.Set(serverName, keys, gocache.DefaultExpiration)
			globalData.backoff.Clear(ledgerKey)
			return keys, nil
		}
	} else {
		log.Warnf("direct key fetch: %q failed: %s", serverName, err)
	}

notaryLoop:
	for _, notary := range globalData.notaryServers {
		if notary == serverName || notary == globalData.serverName {
			continue notaryLoop
		}

		response := notaryResponse{}
		err := transport.SendRequest(ctx, notary, "GET", "/_matrix/key/v2/query/"+serverName, nil, &response)
		if nil != err {
			log.Warnf("notary: %q query for: %q failed: %s", notary, serverName, err)
			continue notaryLoop
		}

		for _, document := range response.ServerKeys {
			if document.ServerName != serverName {
				continue
			}
			keys, err = roomstore.MergeServerKeys(serverName, document.flatten())
			if nil != err {
				return nil, err
			}
		}

		if containsAll(keys, requiredKeyIds) {
			globalData.cache.Set(serverName, keys, gocache.DefaultExpiration)
			globalData.backoff.Clear(ledgerKey)
			return keys, nil
		}
	}

	// failure is recorded only after every source is exhausted
	globalData.backoff.MarkAttempt(ledgerKey)
	log.Warnf("no keys found: %q %v", serverName, requiredKeyIds)
	return nil, fault.NoPublicKeyForServer
}

// RequiredKeyIds - signing key ids one server used on an object
func RequiredKeyIds(object event.Object, serverName string) []string {
	signatures, ok := object["signatures"].(map[string]interface{})
	if !ok {
		return nil
	}
	serverSignatures, ok := signatures[serverName].(map[string]interface{})
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(serverSignatures))
	for id := range serverSignatures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// VerifyOrigin - check an object carries a valid signature from a
// server, fetching that server's keys as needed
func VerifyOrigin(ctx context.Context, object event.Object, serverName string) error {
	requiredKeyIds := RequiredKeyIds(object, serverName)
	if 0 == len(requiredKeyIds) {
		return fault.MissingSignatures
	}

	keys, err := FetchKeys(ctx, serverName, requiredKeyIds)
	if nil != err {
		return err
	}

	for _, keyID := range requiredKeyIds {
		encoded := keys[keyID]
		publicKey, err := base64.RawStdEncoding.DecodeString(encoded)
		if nil != err || ed25519.PublicKeySize != len(publicKey) {
			return fault.InvalidPublicKey
		}
		if err := event.VerifyJSON(serverName, keyID, publicKey, object); nil != err {
			return err
		}
	}
	return nil
}

// FetchJoinSigningKeys - prefetch the keys of every server that
// signed any of the given events
//
// servers not already satisfied locally are asked from the trusted
// notaries in one batched round trip; anything the notaries could
// not provide is fetched directly, one goroutine per server.
// failures for individual servers are tolerated; verification of
// each event decides what is usable
func FetchJoinSigningKeys(ctx context.Context, events []event.Object) {
	required := map[string]map[string]struct{}{}

	for _, object := range events {
		signatures, ok := object["signatures"].(map[string]interface{})
		if !ok {
			continue
		}
		for serverName, value := range signatures {
			serverSignatures, ok := value.(map[string]interface{})
			if !ok {
				continue
			}
			ids, ok := required[serverName]
			if !ok {
				ids = map[string]struct{}{}
				required[serverName] = ids
			}
			for id := range serverSignatures {
				ids[id] = struct{}{}
			}
		}
	}

	unresolved := map[string][]string{}
	for serverName, ids := range required {
		if serverName == globalData.serverName {
			continue
		}
		keyIds := make([]string, 0, len(ids))
		for id := range ids {
			keyIds = append(keyIds, id)
		}
		sort.Strings(keyIds)
		if containsAll(roomstore.ServerKeys(serverName), keyIds) {
			continue
		}
		unresolved[serverName] = keyIds
	}
	if 0 == len(unresolved) {
		return
	}

	batchNotaryQuery(ctx, unresolved)

	wg := sync.WaitGroup{}
	for serverName, keyIds := range unresolved {
		wg.Add(1)
		go func(serverName string, keyIds []string) {
			defer wg.Done()
			if _, err := FetchKeys(ctx, serverName, keyIds); nil != err {
				globalData.log.Warnf("join key prefetch: %q failed: %s", serverName, err)
			}
		}(serverName, keyIds)
	}
	wg.Wait()
}

// request body of POST /_matrix/key/v2/query
type notaryBatchRequest struct {
	ServerKeys map[string]map[string]struct{} `json:"server_keys"`
}

// ask each trusted notary for every unresolved server in a single
// request, removing satisfied servers from the map as documents land
func batchNotaryQuery(ctx context.Context, unresolved map[string][]string) {
	log := globalData.log

	wanted := map[string]map[string]struct{}{}
	for serverName, keyIds := range unresolved {
		ids := map[string]struct{}{}
		for _, id := range keyIds {
			ids[id] = struct{}{}
		}
		wanted[serverName] = ids
	}
	request := notaryBatchRequest{ServerKeys: wanted}

notaryLoop:
	for _, notary := range globalData.notaryServers {
		if notary == globalData.serverName {
			continue notaryLoop
		}

		response := notaryResponse{}
		if err := transport.SendRequest(ctx, notary, "POST", "/_matrix/key/v2/query", request, &response); nil != err {
			log.Warnf("notary: %q batch query failed: %s", notary, err)
			continue notaryLoop
		}

		for _, document := range response.ServerKeys {
			keyIds, ok := unresolved[document.ServerName]
			if !ok {
				continue
			}
			keys, err := roomstore.MergeServerKeys(document.ServerName, document.flatten())
			if nil != err {
				log.Warnf("key merge: %q failed: %s", document.ServerName, err)
				continue
			}
			if containsAll(keys, keyIds) {
				globalData.cache.Set(document.ServerName, keys, gocache.DefaultExpiration)
				globalData.backoff.Clear(backoffKey(document.ServerName, keyIds))
				delete(unresolved, document.ServerName)
			}
		}

		if 0 == len(unresolved) {
			break notaryLoop
		}
	}
}
