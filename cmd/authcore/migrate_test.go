// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/store"
	"github.com/holomush/authcore/pkg/errutil"
)

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVersion int
		wantErr     bool
	}{
		{name: "valid integer", input: "3", wantVersion: 3},
		{name: "zero is valid", input: "0", wantVersion: 0},
		{name: "non-numeric", input: "abc", wantErr: true},
		{name: "float stops at dot", input: "1.5", wantVersion: 1},
		{name: "trailing chars are ignored", input: "3abc", wantVersion: 3},
		{name: "negative is valid", input: "-1", wantVersion: -1},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
		{name: "leading whitespace", input: "  42", wantVersion: 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, err := parseForceVersion(tt.input)

			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "INVALID_VERSION")
				assert.Equal(t, 0, version)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}

func TestGetDatabaseURL(t *testing.T) {
	cfg := config.Default()
	_, err := getDatabaseURL(cfg)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")

	cfg.Database.URL = "postgres://localhost:5432/auth"
	url, err := getDatabaseURL(cfg)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost:5432/auth", url)
}

type fakeMigrator struct {
	calls  []string
	steps  int
	forced int
	status store.MigrationStatus
	err    error
	closed bool
}

func (m *fakeMigrator) Up() error {
	m.calls = append(m.calls, "up")
	return m.err
}

func (m *fakeMigrator) Down() error {
	m.calls = append(m.calls, "down")
	return m.err
}

func (m *fakeMigrator) Steps(n int) error {
	m.calls = append(m.calls, "steps")
	m.steps = n
	return m.err
}

func (m *fakeMigrator) Force(v int) error {
	m.calls = append(m.calls, "force")
	m.forced = v
	return m.err
}

func (m *fakeMigrator) Status() (store.MigrationStatus, error) {
	return m.status, nil
}

func (m *fakeMigrator) Close() error {
	m.closed = true
	return nil
}

func runMigrate(t *testing.T, fake *fakeMigrator, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(config.EnvDatabaseURL, "postgres://localhost:5432/auth")
	var gotURL string
	orig := newMigrator
	newMigrator = func(url string) (migrator, error) {
		gotURL = url
		return fake, nil
	}
	t.Cleanup(func() { newMigrator = orig })

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"migrate"}, args...))
	err := cmd.Execute()
	if err == nil {
		assert.Equal(t, "postgres://localhost:5432/auth", gotURL)
		assert.True(t, fake.closed)
	}
	return buf.String(), err
}

func TestMigrateUp(t *testing.T) {
	fake := &fakeMigrator{status: store.MigrationStatus{Current: 2, Applied: []uint{1, 2}}}

	out, err := runMigrate(t, fake, "up")

	require.NoError(t, err)
	assert.Equal(t, []string{"up"}, fake.calls)
	assert.Contains(t, out, "Current version: 2")
	assert.Contains(t, out, "Applied: 1, 2")
	assert.Contains(t, out, "Pending: none")
}

func TestMigrateDown(t *testing.T) {
	t.Run("default one step", func(t *testing.T) {
		fake := &fakeMigrator{}
		_, err := runMigrate(t, fake, "down")
		require.NoError(t, err)
		assert.Equal(t, []string{"steps"}, fake.calls)
		assert.Equal(t, -1, fake.steps)
	})

	t.Run("steps flag", func(t *testing.T) {
		fake := &fakeMigrator{}
		_, err := runMigrate(t, fake, "down", "--steps", "2")
		require.NoError(t, err)
		assert.Equal(t, -2, fake.steps)
	})

	t.Run("all", func(t *testing.T) {
		fake := &fakeMigrator{}
		_, err := runMigrate(t, fake, "down", "--all")
		require.NoError(t, err)
		assert.Equal(t, []string{"down"}, fake.calls)
	})
}

func TestMigrateVersionShowsDirty(t *testing.T) {
	fake := &fakeMigrator{status: store.MigrationStatus{Current: 1, Dirty: true, Applied: []uint{1}, Pending: []uint{2}}}

	out, err := runMigrate(t, fake, "version")

	require.NoError(t, err)
	assert.Empty(t, fake.calls)
	assert.Contains(t, out, "Current version: 1 (dirty)")
	assert.Contains(t, out, "Pending: 2")
}

func TestMigrateForce(t *testing.T) {
	fake := &fakeMigrator{}

	out, err := runMigrate(t, fake, "force", "2")

	require.NoError(t, err)
	assert.Equal(t, 2, fake.forced)
	assert.Contains(t, out, "Schema version forced to 2")

	_, err = runMigrate(t, &fakeMigrator{}, "force", "two")
	errutil.AssertErrorCode(t, err, "INVALID_VERSION")
}

func TestMigrateUpPropagatesFailure(t *testing.T) {
	fake := &fakeMigrator{err: oops.Code("MIGRATION_UP_FAILED").Errorf("boom")}

	_, err := runMigrate(t, fake, "up")

	errutil.AssertErrorCode(t, err, "MIGRATION_UP_FAILED")
}

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(config.EnvDatabaseURL, "")
	configFile = ""

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"migrate", "up"})

	errutil.RequireErrorCode(t, cmd.Execute(), "CONFIG_INVALID")
}
