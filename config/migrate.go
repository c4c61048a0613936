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

package config

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/algorand/go-microledger/util/codecs"
)

func migrate(cfg Local) (newCfg Local, err error) {
	newCfg = cfg
	latestConfigVersion := getLatestConfigVersion()

	if cfg.Version > latestConfigVersion {
		err = fmt.Errorf("unexpected config version: %d", cfg.Version)
		return
	}

	localType := reflect.TypeOf(Local{})
	for newCfg.Version < latestConfigVersion {
		defaultCurrentConfig := GetVersionedDefaultLocalConfig(newCfg.Version)
		nextVersion := newCfg.Version + 1
		for fieldNum := 0; fieldNum < localType.NumField(); fieldNum++ {
			field := localType.Field(fieldNum)
			nextVersionDefaultValue, hasTag := field.Tag.Lookup(fmt.Sprintf("version[%d]", nextVersion))
			if !hasTag {
				continue
			}
			current := reflect.ValueOf(&newCfg).Elem().FieldByName(field.Name)
			oldDefault := reflect.ValueOf(&defaultCurrentConfig).Elem().FieldByName(field.Name)
			// only values the operator never changed follow the new default
			if !reflect.DeepEqual(current.Interface(), oldDefault.Interface()) {
				continue
			}
			if err = setFieldFromTag(current, field.Name, nextVersionDefaultValue); err != nil {
				return
			}
		}
		// the Version field carries its own tag, so it was bumped by the loop above
	}
	return
}

func getLatestConfigVersion() uint32 {
	versionField, found := reflect.TypeOf(Local{}).FieldByName("Version")
	if !found {
		return 0
	}
	version := uint32(0)
	for {
		_, hasTag := versionField.Tag.Lookup(fmt.Sprintf("version[%d]", version+1))
		if !hasTag {
			return version
		}
		version++
	}
}

// GetVersionedDefaultLocalConfig returns the default config for the given version.
func GetVersionedDefaultLocalConfig(version uint32) (local Local) {
	if version > 0 {
		local = GetVersionedDefaultLocalConfig(version - 1)
	}
	localType := reflect.TypeOf(Local{})
	for fieldNum := 0; fieldNum < localType.NumField(); fieldNum++ {
		field := localType.Field(fieldNum)
		versionDefaultValue, hasTag := field.Tag.Lookup(fmt.Sprintf("version[%d]", version))
		if !hasTag {
			continue
		}
		err := setFieldFromTag(reflect.ValueOf(&local).Elem().FieldByName(field.Name), field.Name, versionDefaultValue)
		if err != nil {
			panic(err)
		}
	}
	return
}

func setFieldFromTag(v reflect.Value, name, text string) error {
	switch v.Kind() {
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(text)
		if err != nil {
			return fmt.Errorf("config field %s: %w", name, err)
		}
		v.SetBool(boolVal)
	case reflect.Int, reflect.Int32, reflect.Int64:
		intVal, err := strconv.ParseInt(text, 10, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("config field %s: %w", name, err)
		}
		v.SetInt(intVal)
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		uintVal, err := strconv.ParseUint(text, 10, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("config field %s: %w", name, err)
		}
		v.SetUint(uintVal)
	case reflect.String:
		v.SetString(text)
	default:
		return fmt.Errorf("unsupported data type (%s) encountered when reflecting on config.Local datatype %s", v.Kind(), name)
	}
	return nil
}

// GetNonDefaultConfigValues returns the fields of cfg, by name, that are not
// set to the default for the latest version.
func GetNonDefaultConfigValues(cfg Local) map[string]interface{} {
	return codecs.NonDefaultValues(cfg, GetDefaultLocal(), nil)
}
