// Copyright (C) 2019-2024 Algorand, Inc.
// This file is part of go-microledger
//
// go-microledger is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// go-microledger is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with go-microledger.  If not, see <https://www.gnu.org/licenses/>.

// mlsim inspects microledger agent configuration and runs consensus rounds
// between agents hosted in one process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	errorNoDataDirectory = "Data directory not specified. Please use -d or set $" + dataDirEnv + " in your environment."
	infoDataDir          = "[Data Directory: %s]"
)

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&dataDirs, "datadir", "d", nil, "Data directory holding config.json, logs and sqlite ledgers")
}

var rootCmd = &cobra.Command{
	Use:   "mlsim",
	Short: "Microledger consensus simulator",
	Long:  "mlsim reads microledger agent configuration and simulates consensus rounds between agents in one process.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.HelpFunc()(cmd, nil)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
