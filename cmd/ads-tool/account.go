// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/Fantom-foundation/adsexec/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"
)

var Account = cli.Command{
	Action:    account,
	Name:      "account",
	Usage:     "prints the state of an account at a given height",
	ArgsUsage: "<directory> <height> <address>",
	Flags: []cli.Flag{
		&slotsFlag,
	},
}

var slotsFlag = cli.StringSliceFlag{
	Name:  "slot",
	Usage: "storage slot to print, given as 32-byte hex value; may be repeated",
}

func account(context *cli.Context) (err error) {
	if context.Args().Len() != 3 {
		return fmt.Errorf("missing directory, height, and/or address parameter")
	}
	dir := context.Args().Get(0)
	height, err := strconv.ParseUint(context.Args().Get(1), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid block height %s", context.Args().Get(1))
	}
	address, err := parseAddress(context.Args().Get(2))
	if err != nil {
		return err
	}
	var slots []common.Key
	for _, arg := range context.StringSlice(slotsFlag.Name) {
		data, err := hexutil.Decode(arg)
		if err != nil || len(data) > common.KeySize {
			return fmt.Errorf("invalid slot %s", arg)
		}
		var key common.Key
		copy(key[common.KeySize-len(data):], data)
		slots = append(slots, key)
	}

	ctrl, err := openExisting(context, dir)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, ctrl.Close())
	}()

	snapshot, err := ctrl.Snapshot(height)
	if err != nil {
		return err
	}
	record, err := snapshot.Account(address)
	if err != nil {
		return err
	}
	if record == nil {
		fmt.Printf("Account %v does not exist at height %d\n", address, height)
		return nil
	}
	fmt.Printf("Account %v at height %d:\n", address, height)
	fmt.Printf("\tNonce:        %d\n", record.Nonce)
	fmt.Printf("\tBalance:      %v\n", record.Balance)
	fmt.Printf("\tCode hash:    %v\n", record.CodeHash)
	fmt.Printf("\tStorage root: %v\n", record.StorageRoot)
	for _, slot := range slots {
		value, err := snapshot.Storage(address, slot)
		if err != nil {
			return err
		}
		fmt.Printf("\tSlot %v: %v\n", slot, value)
	}
	return nil
}

func parseAddress(arg string) (common.Address, error) {
	data, err := hexutil.Decode(arg)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid address %s: %w", arg, err)
	}
	return common.AddressFromBytes(data)
}
