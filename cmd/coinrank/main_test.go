package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/noperator/coinrank/pkg/coinrank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSearch_ReportsTruth(t *testing.T) {
	sc := coinrank.DemoScenario(7)
	sc.Budget = 2000

	rep, err := search(context.Background(), sc, discardLogger(), runOptions{})
	require.NoError(t, err)

	require.True(t, rep.Found)
	assert.Len(t, rep.Coins, 12)
	require.NotNil(t, rep.TrueTarget)
	require.NotNil(t, rep.Correct)
	assert.Equal(t, rep.Index == *rep.TrueTarget, *rep.Correct)
}

func TestSearch_UnknownProbabilities(t *testing.T) {
	sc := &coinrank.Scenario{
		Budget: 20,
		Coins:  []coinrank.CoinSpec{{Script: "H"}, {Script: "HT"}, {Script: "T"}},
	}

	rep, err := search(context.Background(), sc, discardLogger(), runOptions{})
	require.NoError(t, err)

	assert.Nil(t, rep.TrueTarget)
	assert.Nil(t, rep.Correct)
}

func TestSearch_WritesMetrics(t *testing.T) {
	metrics := filepath.Join(t.TempDir(), "coinrank.prom")
	sc := coinrank.DemoScenario(1)

	_, err := search(context.Background(), sc, discardLogger(), runOptions{metricsFile: metrics})
	require.NoError(t, err)

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), "coinrank_observations_total")
	assert.Contains(t, string(data), "coinrank_budget_used 120")
}

func TestAllKnown(t *testing.T) {
	assert.False(t, allKnown(nil))
	assert.True(t, allKnown([]float64{0.1, 0.9}))
	assert.False(t, allKnown(coinrank.Probabilities([]coinrank.CoinSpec{{Script: "H"}})))
}

func TestSchemaCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"schema"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), `"candidates"`)
}

func TestGroup(t *testing.T) {
	assert.Equal(t, "ANT", group(0.51))
	assert.Equal(t, "SAH", group(0.5))
}
