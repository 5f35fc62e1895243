// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package state

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/Fantom-foundation/adsexec/common"
)

func TestAddressing_AccountKeysAreInjective(t *testing.T) {
	const numAddresses = 100_000
	rnd := rand.New(rand.NewSource(42))
	seenAddresses := map[common.Address]struct{}{}
	seenHashes := map[common.Hash]common.Address{}
	for len(seenAddresses) < numAddresses {
		var address common.Address
		rnd.Read(address[:])
		if _, found := seenAddresses[address]; found {
			continue
		}
		seenAddresses[address] = struct{}{}
		hash := AccountKey(address).Hash
		if other, found := seenHashes[hash]; found {
			t.Fatalf("collision between %v and %v", address, other)
		}
		seenHashes[hash] = address
	}
}

func TestAddressing_KeysAreDeterministic(t *testing.T) {
	address := common.Address{1, 2, 3}
	if a, b := AccountKey(address), AccountKey(address); a.Hash != b.Hash {
		t.Errorf("account key not deterministic: %v vs %v", a.Hash, b.Hash)
	}
	if a, b := SlotKey(address, common.Key{4}), SlotKey(address, common.Key{4}); a.Hash != b.Hash {
		t.Errorf("slot key not deterministic: %v vs %v", a.Hash, b.Hash)
	}
	if a, b := BlockHashKey(12), BlockHashKey(12); a.Hash != b.Hash {
		t.Errorf("block hash key not deterministic: %v vs %v", a.Hash, b.Hash)
	}
}

func TestAddressing_DomainsAreDisjoint(t *testing.T) {
	// The same 32 identifying bytes used in every domain.
	var raw [32]byte
	for i := range raw {
		raw[i] = byte(i)
	}
	var address common.Address
	copy(address[:], raw[:])
	var slot common.Key
	copy(slot[:], raw[:])

	keys := map[string]StateKey{
		"account":    AccountKey(address),
		"slot":       SlotKey(address, slot),
		"code":       CodeKey(common.Hash(raw)),
		"block hash": BlockHashKey(binary.BigEndian.Uint64(raw[:])),
	}
	seen := map[common.Hash]string{}
	for domain, key := range keys {
		if other, found := seen[key.Hash]; found {
			t.Errorf("keys of %s and %s collide", domain, other)
		}
		seen[key.Hash] = domain
	}
}

func TestAddressing_HashIsKeccakOfRawKey(t *testing.T) {
	keys := []StateKey{
		AccountKey(common.Address{1}),
		SlotKey(common.Address{1}, common.Key{2}),
		CodeKey(common.Hash{3}),
		BlockHashKey(4),
	}
	for _, key := range keys {
		if want := common.Keccak256(key.Raw); want != key.Hash {
			t.Errorf("unexpected hash for raw key %x, wanted %v, got %v", key.Raw, want, key.Hash)
		}
	}
}

func TestAddressing_SlotKeysDifferBetweenAccounts(t *testing.T) {
	a := SlotKey(common.Address{1}, common.Key{2})
	b := SlotKey(common.Address{2}, common.Key{1})
	if a.Hash == b.Hash {
		t.Errorf("slot keys of different accounts collide")
	}
}
