// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package env reads typed values from environment variables.
// Every getter returns the default when the variable is unset. A set but
// malformed variable is an error, silently falling back would hide typos in
// deployment files.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Lookup reports whether key is set to a non-empty value.
func Lookup(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))

	return value, value != ""
}

// GetAsString retrieves an environment variable as a string.
// If required is true and the variable is not set, an error is returned.
func GetAsString(key string, required bool, defaultValue string) (string, error) {
	value, ok := Lookup(key)
	if !ok {
		if required {
			return "", fmt.Errorf("required environment variable %s is not set", key)
		}

		return defaultValue, nil
	}

	return value, nil
}

// GetAsInt retrieves an environment variable as an integer.
func GetAsInt(key string, required bool, defaultValue int) (int, error) {
	value, err := GetAsString(key, required, strconv.Itoa(defaultValue))
	if err != nil {
		return 0, err
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}

	return intValue, nil
}

// GetAsBool retrieves an environment variable as a boolean.
// Accepts true/false, 1/0, yes/no, y/n and on/off in any case.
func GetAsBool(key string, required bool, defaultValue bool) (bool, error) {
	value, err := GetAsString(key, required, strconv.FormatBool(defaultValue))
	if err != nil {
		return false, err
	}

	switch strings.ToLower(value) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("environment variable %s must be a boolean value", key)
	}
}

// GetAsFloat retrieves an environment variable as a float64.
func GetAsFloat(key string, required bool, defaultValue float64) (float64, error) {
	value, err := GetAsString(key, required, strconv.FormatFloat(defaultValue, 'f', -1, 64))
	if err != nil {
		return 0, err
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be a number: %w", key, err)
	}

	return floatValue, nil
}

// GetAsList retrieves a comma or whitespace separated environment variable.
func GetAsList(key string, required bool, defaultValue []string) ([]string, error) {
	value, ok := Lookup(key)
	if !ok {
		if required {
			return nil, fmt.Errorf("required environment variable %s is not set", key)
		}

		return defaultValue, nil
	}

	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	}), nil
}

// GetAsIntList retrieves a comma or whitespace separated list of integers.
func GetAsIntList(key string, required bool, defaultValue []int) ([]int, error) {
	items, err := GetAsList(key, required, nil)
	if err != nil {
		return nil, err
	}

	if items == nil {
		return defaultValue, nil
	}

	values := make([]int, 0, len(items))
	for _, item := range items {
		v, err := strconv.Atoi(item)
		if err != nil {
			return nil, fmt.Errorf("environment variable %s must be a list of integers: %w", key, err)
		}

		values = append(values, v)
	}

	return values, nil
}
