package main

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbid/otp"
)

func parseTestArgs(t *testing.T, arguments ...string) Args {
	t.Helper()

	fs := pflag.NewFlagSet("carbid", pflag.ContinueOnError)
	defineFlags(fs)
	require.NoError(t, fs.Parse(arguments))

	v := viper.New()
	require.NoError(t, v.BindPFlags(fs))
	v.AutomaticEnv()
	v.SetEnvPrefix("CARBID")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	return argsFrom(v)
}

func TestArgs_OTPDefaults(t *testing.T) {
	args := parseTestArgs(t)

	assert.Equal(t, otp.DefaultTTL, args.ServerConfig.OTP.TTL)
	assert.Equal(t, 10*time.Minute, args.ServerConfig.OTP.TTL)
	assert.True(t, args.ServerConfig.OTP.InvalidatePrevious)
}

func TestArgs_OTPTTLOverride(t *testing.T) {
	args := parseTestArgs(t, "--otp-ttl=3m")
	assert.Equal(t, 3*time.Minute, args.ServerConfig.OTP.TTL)

	t.Setenv("CARBID_OTP_TTL", "7m")
	args = parseTestArgs(t)
	assert.Equal(t, 7*time.Minute, args.ServerConfig.OTP.TTL)
}
