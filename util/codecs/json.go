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

package codecs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
)

// NewFormattedJSONEncoder returns a json encoder configured for
// pretty-printed output (human-readable)
func NewFormattedJSONEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")
	enc.SetEscapeHTML(false)
	return enc
}

// LoadObjectFromFile decodes the json file into object. Fields missing from
// the file keep whatever object already holds.
func LoadObjectFromFile(filename string, object interface{}) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(object)
}

type namedValue struct {
	name  string
	value interface{}
}

// nonDefault walks the exported top-level fields of object in declaration
// order and keeps those that differ from defaultObject or are named in
// include. Nested structs are compared as a whole.
func nonDefault(object, defaultObject interface{}, include []string) []namedValue {
	v := reflect.Indirect(reflect.ValueOf(object))
	def := reflect.Indirect(reflect.ValueOf(defaultObject))

	var out []namedValue
	for i := 0; i < v.NumField(); i++ {
		field := v.Type().Field(i)
		if !field.IsExported() {
			continue
		}
		val := v.Field(i).Interface()
		defField := def.FieldByName(field.Name)
		if slices.Contains(include, field.Name) || !defField.IsValid() || !reflect.DeepEqual(val, defField.Interface()) {
			out = append(out, namedValue{name: field.Name, value: val})
		}
	}
	return out
}

// NonDefaultValues returns the fields of object, by name, whose values
// differ from the same fields of defaultObject. Fields named in include are
// always returned.
func NonDefaultValues(object, defaultObject interface{}, include []string) map[string]interface{} {
	values := make(map[string]interface{})
	for _, nv := range nonDefault(object, defaultObject, include) {
		values[nv.name] = nv.value
	}
	return values
}

// SaveNonDefaultValuesToFile writes object to filename as a json object
// holding only the fields NonDefaultValues would return, in declaration
// order.
func SaveNonDefaultValuesToFile(filename string, object, defaultObject interface{}, include []string, prettyFormat bool) error {
	var buf bytes.Buffer
	sep, indent := "", ""
	if prettyFormat {
		indent = "\n\t"
	}

	buf.WriteString("{")
	for _, nv := range nonDefault(object, defaultObject, include) {
		enc, err := json.Marshal(nv.value)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", nv.name, err)
		}
		fmt.Fprintf(&buf, "%s%s%q: %s", sep, indent, nv.name, enc)
		sep = ","
	}
	if prettyFormat && sep != "" {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")

	return os.WriteFile(filename, buf.Bytes(), 0644)
}
