package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSplitChainSeparatesLinksOnPlus(t *testing.T) {
	links, pipeline := splitChain([]string{"sync", "pipes", "-m", "temp", "+", "verify", "pipes", "-m", "temp"})
	assert.Equal(t, [][]string{
		{"sync", "pipes", "-m", "temp"},
		{"verify", "pipes", "-m", "temp"},
	}, links)
	assert.Zero(t, pipeline.sleep)
}

func TestSplitChainPeelsOffPipelineSegment(t *testing.T) {
	links, pipeline := splitChain([]string{"sync", "pipes", ":", "-s", "5s"})
	assert.Equal(t, [][]string{{"sync", "pipes"}}, links)
	assert.Equal(t, 5*time.Second, pipeline.sleep)
}

func TestSplitChainWithNoSeparatorsIsOneLink(t *testing.T) {
	links, pipeline := splitChain([]string{"show", "pipes"})
	assert.Equal(t, [][]string{{"show", "pipes"}}, links)
	assert.Zero(t, pipeline.sleep)
}

func TestParsePipelineFlagsIgnoresUnknownFlags(t *testing.T) {
	pipeline := parsePipelineFlags([]string{"--loop", "--timeout", "30s", "-s", "2s"})
	assert.Equal(t, 2*time.Second, pipeline.sleep)
}

func TestExitCodeMapsUsageErrorToTwo(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, 0, exitCode(ctx, nil))
	assert.Equal(t, 2, exitCode(ctx, newUsageError("bad flag")))
	assert.Equal(t, 1, exitCode(ctx, errors.New("boom")))
}

func TestExitCodeMapsCancelledContextToOneThirty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 130, exitCode(ctx, errors.New("interrupted")))
}
