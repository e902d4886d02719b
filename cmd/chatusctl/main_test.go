package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccountCreateRequiresFlags(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"account", "create"})

	err := rootCmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), `required flag(s) "email", "password" not set`)
}

func TestMigrateRejectsArgs(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"migrate", "now"})

	require.Error(t, rootCmd.Execute())
}
