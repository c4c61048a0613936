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

package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"

	"github.com/spf13/cobra"

	"github.com/algorand/go-microledger/config"
	"github.com/algorand/go-microledger/util/codecs"
)

var (
	getParameterArg string
)

func init() {
	getCmd.Flags().StringVarP(&getParameterArg, "parameter", "p", "", "Parameter to query")
	getCmd.MarkFlagRequired("parameter")

	configCmd.AddCommand(defaultsCmd)
	configCmd.AddCommand(getCmd)
	configCmd.AddCommand(changedCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect agent configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.HelpFunc()(cmd, nil)
	},
}

var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Print the default configuration of the latest version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		enc := codecs.NewFormattedJSONEncoder(cmd.OutOrStdout())
		if err := enc.Encode(config.GetDefaultLocal()); err != nil {
			reportErrorf("Error encoding defaults: %v", err)
		}
	},
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Retrieve the current value for the specified parameter",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		anyError := false
		onDataDirs(func(dataDir string) {
			cfg, err := config.LoadConfigFromDisk(dataDir)
			if err != nil && !os.IsNotExist(err) {
				reportWarnf("Error loading config file from '%s': %v", dataDir, err)
				anyError = true
				return
			}

			val, err := getObjectProperty(cfg, getParameterArg)
			if err != nil {
				reportWarnf("Error retrieving property '%s' - %s", getParameterArg, err)
				anyError = true
				return
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%v\n", val)
		})
		if anyError {
			os.Exit(1)
		}
	},
}

var changedCmd = &cobra.Command{
	Use:   "changed",
	Short: "List the parameters that differ from the latest defaults",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		anyError := false
		onDataDirs(func(dataDir string) {
			cfg, err := config.LoadConfigFromDisk(dataDir)
			if err != nil && !os.IsNotExist(err) {
				reportWarnf("Error loading config file from '%s': %v", dataDir, err)
				anyError = true
				return
			}

			changed := config.GetNonDefaultConfigValues(cfg)
			names := make([]string, 0, len(changed))
			for name := range changed {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", name, changed[name])
			}
		})
		if anyError {
			os.Exit(1)
		}
	},
}

func getObjectProperty(object interface{}, property string) (ret interface{}, err error) {
	v := reflect.ValueOf(object)
	val := reflect.Indirect(v)
	f := val.FieldByName(property)

	if !f.IsValid() {
		return object, fmt.Errorf("unknown property named '%s'", property)
	}

	return f.Interface(), nil
}
