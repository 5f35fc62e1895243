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
	"os"

	"github.com/Fantom-foundation/adsexec/backend/ads"
	"github.com/Fantom-foundation/adsexec/state"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

// Run using
//  go run ./cmd/ads-tool <command> <flags>

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML file with the execution state configuration",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: 3,
	}
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "ads-tool",
		Usage:     "execution state toolbox",
		Copyright: "(c) 2024 Fantom Foundation",
		Flags: []cli.Flag{
			&configFlag,
			&verbosityFlag,
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			&Init,
			&Info,
			&Account,
			&Drop,
		},
	}
}

func setupLogging(context *cli.Context) error {
	level := log.FromLegacyLevel(context.Int(verbosityFlag.Name))
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, level, true)))
	return nil
}

// loadConfig reads the configuration file given on the command line, if
// any, and points it to the given directory.
func loadConfig(context *cli.Context, dir string) (state.Config, error) {
	config := state.DefaultConfig()
	if path := context.String(configFlag.Name); path != "" {
		var err error
		if config, err = state.LoadConfig(path); err != nil {
			return config, err
		}
	}
	if dir != "" {
		config.Directory = dir
	}
	return config, nil
}

// openExisting opens the execution state in the given directory using the
// backend recorded in the directory.
func openExisting(context *cli.Context, dir string) (*state.Controller, error) {
	config, err := loadConfig(context, dir)
	if err != nil {
		return nil, err
	}
	meta, err := ads.ReadMetadata(config.Directory)
	if err != nil {
		return nil, fmt.Errorf("%s does not contain an execution state: %w", config.Directory, err)
	}
	config.Backend = meta.Backend
	return state.OpenController(config)
}
