package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jonathan/ciencia/internal/config"
	"github.com/jonathan/ciencia/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-test-secret-0123456789abcdef")
	t.Setenv("JWT_EXPIRATION_HOURS", "2")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--subject", "bench-7"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())

	token := strings.TrimSpace(out.String())
	svc := server.NewJWTService(&config.JWTConfig{Secret: "cli-test-secret-0123456789abcdef", ExpirationHours: 2})
	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "bench-7", claims.Subject)
}

func TestTokenCommand_NoSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CIENCIA_JWT_SECRET", "")

	rootCmd.SetArgs([]string{"token", "--subject", "x"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}
