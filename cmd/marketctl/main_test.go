package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"seed-admin"},
		{"user", "add"},
		{"token"},
		{"reconcile"},
		{"show-request"},
		{"notifications", "tail"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestArgumentsAreCheckedBeforeConnecting(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"token needs a user id", []string{"token"}, "accepts 1 arg"},
		{"token rejects a bad id", []string{"token", "not-a-uuid"}, "invalid user id"},
		{"reconcile rejects a bad transaction id", []string{"reconcile", "--transaction", "x"}, "invalid transaction id"},
		{"show-request rejects a bad id", []string{"show-request", "42"}, "invalid request id"},
		{"user add rejects unknown role", []string{"user", "add", "a@example.com", "--role", "superuser"}, "unknown role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReconcileFlags(t *testing.T) {
	cmd, _, err := newRootCmd().Find([]string{"reconcile"})
	require.NoError(t, err)

	limit, err := cmd.Flags().GetInt("limit")
	require.NoError(t, err)
	assert.Equal(t, 100, limit)
	assert.NotNil(t, cmd.Flags().Lookup("transaction"))
	assert.NotNil(t, cmd.Flags().Lookup("max-age"))
}
