// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koaning/thinc/ml/layers"
	"github.com/koaning/thinc/ml/train"
	"github.com/koaning/thinc/ml/train/losses"
	"github.com/koaning/thinc/ml/train/optimizers"
	"github.com/koaning/thinc/pkg/support/params"
	"github.com/koaning/thinc/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestParams() params.Params {
	return params.New(
		"x", 11.0,
		"y", 7,
		"z", false,
		"s", "foo",
		"list_int", []int{},
		"list_float", []float64{},
		"list_str", []string{},
	)
}

func TestParseParamsSettings(t *testing.T) {
	p := createTestParams()
	paramsSet, err := ParseParamsSettings(p, "x=13;z=true;y=1_000;s=bar;list_int=1,3,7;list_float=0.1,1.2,3e3;list_str=a,b;")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "z", "y", "s", "list_int", "list_float", "list_str"}, paramsSet)
	assert.Equal(t, 13.0, p["x"])
	assert.Equal(t, 1000, p["y"])
	assert.Equal(t, true, p["z"])
	assert.Equal(t, "bar", p["s"])
	assert.Equal(t, []int{1, 3, 7}, p["list_int"])
	assert.Equal(t, []float64{0.1, 1.2, 3e3}, p["list_float"])
	assert.Equal(t, []string{"a", "b"}, p["list_str"])

	// Parameter "q" is unknown.
	_, err = ParseParamsSettings(p, "q=3")
	require.Error(t, err)

	// Cannot set the wrong type of value.
	_, err = ParseParamsSettings(p, "y=3.14")
	require.Error(t, err)
	assert.Equal(t, 1000, p["y"])
	_, err = ParseParamsSettings(p, "list_int=1,x")
	require.Error(t, err)

	// Malformed.
	_, err = ParseParamsSettings(p, "x")
	require.Error(t, err)
	_, err = ParseParamsSettings(p, "x=1=2")
	require.Error(t, err)

	// From a file.
	path := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(path, []byte("# Comment\nx=1.5\ns=from_file;y=3\n"), 0o644))
	paramsSet, err = ParseParamsSettings(p, "file:"+path+";z=false")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "s", "y", "z"}, paramsSet)
	assert.Equal(t, 1.5, p["x"])
	assert.Equal(t, "from_file", p["s"])

	modified := SprintModifiedParamsSettings(p, append(paramsSet, "x"))
	assert.Equal(t, "\t\"s\": (string) from_file\n\t\"x\": (float64) 1.5\n\t\"y\": (int) 3\n\t\"z\": (bool) false", modified)
	assert.Contains(t, SprintParamsSettings(p), `"list_str": ([]string) [a b]`)
}

func TestCreateParamsSettingsFlag(t *testing.T) {
	p := createTestParams()
	settings := CreateParamsSettingsFlag(p, "test_settings_flag")
	require.NotNil(t, settings)
	f := flag.Lookup("test_settings_flag")
	require.NotNil(t, f)
	assert.Contains(t, f.Usage, `"list_float": default value is []`)
	require.NoError(t, f.Value.Set("x=2"))
	assert.Equal(t, "x=2", *settings)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.50ms", FormatDuration(1500*time.Microsecond))
	assert.Equal(t, "2.00s", FormatDuration(2*time.Second))
	assert.Equal(t, "1.50m", FormatDuration(90*time.Second))
	assert.Equal(t, "12.35µs", FormatDuration(12346*time.Nanosecond))
	assert.Equal(t, "800ns", FormatDuration(800))
}

func TestProgressBarPlain(t *testing.T) {
	m := layers.Linear(1, 2)
	require.NoError(t, m.Initialize(nil, nil))
	trainer := train.NewTrainer(m, losses.MeanSquaredError, optimizers.StochasticGradientDescent().Done())
	loop := train.NewLoop(trainer)
	var buf bytes.Buffer
	attachProgressBar(loop, &buf, true, func() (string, string) { return "extra", "42" })

	x := tensors.FromValue([][]float32{{1, 0}, {0, 1}})
	labels := tensors.FromValue([][]float32{{1}, {-1}})
	ds, err := train.NewInMemoryDataset("tiny", []any{x}, []*tensors.Tensor{labels})
	require.NoError(t, err)
	_, err = loop.RunSteps(ds.Infinite(true), 10)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "[step=9]")
	assert.Contains(t, out, "[loss=")
	assert.Contains(t, out, "[~loss=")
	assert.Contains(t, out, "[extra=42]")
}

func TestProgressBarTable(t *testing.T) {
	m := layers.Linear(1, 2)
	require.NoError(t, m.Initialize(nil, nil))
	trainer := train.NewTrainer(m, losses.MeanSquaredError, optimizers.StochasticGradientDescent().Done())
	loop := train.NewLoop(trainer)
	var buf bytes.Buffer
	attachProgressBar(loop, &buf, false, func() (string, string) { return "extra", "42" })

	x := tensors.FromValue([][]float32{{1, 0}, {0, 1}})
	labels := tensors.FromValue([][]float32{{1}, {-1}})
	ds, err := train.NewInMemoryDataset("tiny", []any{x}, []*tensors.Tensor{labels})
	require.NoError(t, err)
	_, err = loop.RunSteps(ds.Infinite(true), 5)
	require.NoError(t, err)

	// All snapshots are drawn by the time the loop returns.
	out := buf.String()
	assert.Contains(t, out, "Global Step")
	assert.Contains(t, out, "of 5")
	assert.Contains(t, out, "Median train step duration")
	assert.Contains(t, out, "moving average loss")
	assert.Contains(t, out, "extra")
}

func TestReportEval(t *testing.T) {
	m := layers.Linear(1, 2)
	require.NoError(t, m.Initialize(nil, nil))
	trainer := train.NewTrainer(m, losses.MeanSquaredError, optimizers.StochasticGradientDescent().Done())
	ds, err := train.NewInMemoryDataset("eval", []any{tensors.Zeros(2, 2)}, []*tensors.Tensor{tensors.Zeros(2, 1)})
	require.NoError(t, err)
	require.NoError(t, ReportEval(trainer, ds))

	// Dataset was reset, so it can be evaluated again.
	values, err := trainer.Eval(ds)
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, values)
}
