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

	"github.com/Fantom-foundation/adsexec/backend/ads"
	"github.com/urfave/cli/v2"
)

var Info = cli.Command{
	Action:    info,
	Name:      "info",
	Usage:     "lists information about an execution state",
	ArgsUsage: "<directory>",
}

func info(context *cli.Context) error {
	if context.Args().Len() != 1 {
		return fmt.Errorf("missing directory storing state")
	}
	dir := context.Args().Get(0)
	meta, err := ads.ReadMetadata(dir)
	if err != nil {
		return fmt.Errorf("%s does not contain an execution state: %w", dir, err)
	}
	fmt.Printf("Directory contains an execution state with the following properties:\n")
	fmt.Printf("\tVersion:     %d\n", meta.Version)
	fmt.Printf("\tBackend:     %v\n", meta.Backend)

	ctrl, err := openExisting(context, dir)
	if err != nil {
		fmt.Printf("\tCan be opened: No (%v)\n", err)
		return nil
	}
	return errors.Join(printHeight(ctrl), ctrl.Close())
}
