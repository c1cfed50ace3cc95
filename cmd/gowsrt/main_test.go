package main

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
)

// Test the dependency graph is complete.
func TestValidateApp(t *testing.T) {
	require.NoError(t, fx.ValidateApp(options()))
}
