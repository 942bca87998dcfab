package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"serve", "worker", "recover", "version"} {
		assert.True(t, names[want], "command %q not registered", want)
	}
}

func TestWorkerServerFlagDefault(t *testing.T) {
	flag := workerCmd.Flags().Lookup("server")
	if assert.NotNil(t, flag) {
		assert.Equal(t, "http://localhost:8321", flag.DefValue)
	}
}
