package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func TestAttestationCommand(t *testing.T) {
	cmd := AttestationCommand()

	require.NotNil(t, cmd)
	require.Equal(t, "attestation", cmd.Name)
	require.Len(t, cmd.Commands, 1)
}

func TestGetBootAttestationCommand(t *testing.T) {
	cmd := getBootAttestationCommand()

	require.NotNil(t, cmd)
	require.Equal(t, "get-boot", cmd.Name)
	require.NotEmpty(t, cmd.Usage)

	var hasPubKey, hasEnclaveType, hasKeyName bool
	for _, flag := range cmd.Flags {
		f, ok := flag.(*cli.StringFlag)
		if !ok {
			continue
		}
		switch f.Name {
		case "public-key":
			hasPubKey = true
			require.True(t, f.Required)
		case "enclave-type":
			hasEnclaveType = true
			require.Equal(t, "signer", f.Value)
		case "key-name":
			hasKeyName = true
			require.True(t, f.Required)
		}
	}

	require.True(t, hasPubKey)
	require.True(t, hasEnclaveType)
	require.True(t, hasKeyName)
}
