package cmd

import (
	"bytes"
	"fmt"
	"github.com/nsgbyvt82s-svg/trading-formation-clean/gatekeeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := gatekeeper.Version
	originalCommitSHA := gatekeeper.CommitSHA
	originalBuildTime := gatekeeper.BuildTime
	currentOut := rootCmd.OutOrStdout()

	t.Cleanup(
		func() {
			gatekeeper.Version = originalVersion
			gatekeeper.CommitSHA = originalCommitSHA
			gatekeeper.BuildTime = originalBuildTime
			rootCmd.SetOut(currentOut)
		},
	)

	gatekeeper.Version = "1.0.0"
	gatekeeper.CommitSHA = "abc123"
	gatekeeper.BuildTime = "2024-10-01T12:00:00Z"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())

	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		gatekeeper.Version,
		gatekeeper.CommitSHA,
		gatekeeper.BuildTime,
	)
	assert.Equal(t, expected, out.String())
}
