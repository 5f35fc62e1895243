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
	"fmt"

	"github.com/Fantom-foundation/adsexec/stage"
	"github.com/urfave/cli/v2"
)

var Drop = cli.Command{
	Action:    drop,
	Name:      "drop",
	Usage:     "discards the execution state, forcing blocks to be re-executed from genesis",
	ArgsUsage: "<directory>",
}

func drop(context *cli.Context) error {
	if context.Args().Len() != 1 {
		return fmt.Errorf("missing directory storing state")
	}
	config, err := loadConfig(context, context.Args().Get(0))
	if err != nil {
		return err
	}
	if err := stage.DropExecutionState(config); err != nil {
		return err
	}
	fmt.Printf("Dropped execution state in %s\n", config.Directory)
	return nil
}
