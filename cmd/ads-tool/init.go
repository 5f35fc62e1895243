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
	"github.com/Fantom-foundation/adsexec/state"
	"github.com/urfave/cli/v2"
)

var Init = cli.Command{
	Action:    initState,
	Name:      "init",
	Usage:     "prepares a directory for hosting an execution state",
	ArgsUsage: "<directory>",
	Flags: []cli.Flag{
		&backendFlag,
	},
}

var backendFlag = cli.StringFlag{
	Name:  "backend",
	Usage: "storage engine of the state, leveldb or sqlite",
}

func initState(context *cli.Context) error {
	if context.Args().Len() != 1 {
		return fmt.Errorf("missing directory parameter")
	}
	config, err := loadConfig(context, context.Args().Get(0))
	if err != nil {
		return err
	}
	if backend := context.String(backendFlag.Name); backend != "" {
		config.Backend = ads.Backend(backend)
	}
	switch config.Backend {
	case ads.LevelDB, ads.SQLite:
	default:
		return fmt.Errorf("unsupported backend %q", config.Backend)
	}
	ctrl, err := state.OpenController(config)
	if err != nil {
		return err
	}
	fmt.Printf("Initialized %v execution state in %s\n", config.Backend, config.Directory)
	return errors.Join(printHeight(ctrl), ctrl.Close())
}

func printHeight(ctrl *state.Controller) error {
	height, exists := ctrl.Height()
	if !exists {
		fmt.Printf("\tHeight:      none, next block %d\n", ctrl.NextHeight())
		return nil
	}
	root, err := ctrl.RootHash(height)
	if err != nil {
		return err
	}
	fmt.Printf("\tHeight:      %d\n", height)
	fmt.Printf("\tRoot hash:   %v\n", root)
	return nil
}
