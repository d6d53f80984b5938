// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ReadOptions decodes YAML encoded Options. Unknown keys are an error.
func ReadOptions(r io.Reader) (Options, error) {
	const op = "config.ReadOptions"
	var opts Options
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, fmt.Errorf("%s: %w: %w", op, ErrInvalidConfig, err)
	}
	return opts, nil
}

// LoadFile reads the YAML options file at path.
func LoadFile(path string) (Options, error) {
	const op = "config.LoadFile"
	b, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("%s: %w", op, err)
	}
	opts, err := ReadOptions(bytes.NewReader(b))
	if err != nil {
		return Options{}, fmt.Errorf("%s: %s: %w", op, path, err)
	}
	return opts, nil
}
