// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema writes the authcore configuration JSON Schema, or with
// --check validates YAML config files against it.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/holomush/authcore/internal/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("gen-schema", pflag.ContinueOnError)
	outPath := flags.StringP("out", "o", filepath.Join("schemas", "config.schema.json"), "schema output path")
	check := flags.Bool("check", false, "validate the given config files instead of writing the schema")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *check {
		if flags.NArg() == 0 {
			return fmt.Errorf("--check needs at least one config file")
		}
		for _, path := range flags.Args() {
			data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
			if err != nil {
				return err
			}
			if err := config.ValidateYAML(data); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(out, "%s: ok\n", path)
		}
		return nil
	}

	schema, err := config.GenerateSchema()
	if err != nil {
		return fmt.Errorf("generating schema: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(*outPath), 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(*outPath, schema, 0o600); err != nil {
		return fmt.Errorf("writing schema: %w", err)
	}
	fmt.Fprintf(out, "Generated %s\n", *outPath)
	return nil
}
