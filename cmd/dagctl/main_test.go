package main

import (
	"bytes"
	"testing"

	OuroborosDAG "github.com/i5heu/ouroboros-dag"
	"github.com/i5heu/ouroboros-dag/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	conf := config.Default()
	conf.LogLevel = "debug"
	log, err := newLogger(conf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	conf.LogLevel = "loud"
	_, err = newLogger(conf)
	assert.Error(t, err)
}

func TestPrintStats(t *testing.T) {
	var out bytes.Buffer
	printStats(&out, OuroborosDAG.DBStats{
		CompleteChunks:   3,
		IncompleteChunks: 1,
		Reads:            7,
		Writes:           4,
		SchemaVersion:    3,
	})

	assert.Contains(t, out.String(), "Complete chunks:    3")
	assert.Contains(t, out.String(), "Incomplete chunks:  1")
	assert.Contains(t, out.String(), "Store reads:        7")
	assert.Contains(t, out.String(), "Store writes:       4")
}
