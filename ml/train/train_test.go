// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"io"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/koaning/thinc/ml/layers"
	"github.com/koaning/thinc/ml/model"
	"github.com/koaning/thinc/ml/train/losses"
	"github.com/koaning/thinc/ml/train/metrics"
	"github.com/koaning/thinc/ml/train/optimizers"
	"github.com/koaning/thinc/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// regressionDataset creates numBatches batches of a noiseless linear regression: y = 2*x0 - x1 + 0.5.
func regressionDataset(t *testing.T, rng *rand.Rand, numBatches, batchSize int) *InMemoryDataset {
	xs := make([]any, numBatches)
	labels := make([]*tensors.Tensor, numBatches)
	for batchIdx := range numBatches {
		x := tensors.Zeros(batchSize, 2)
		y := tensors.Zeros(batchSize, 1)
		for row := range batchSize {
			x0, x1 := float32(2*rng.Float64()-1), float32(2*rng.Float64()-1)
			copy(x.Row(row), []float32{x0, x1})
			y.Flat()[row] = 2*x0 - x1 + 0.5
		}
		xs[batchIdx], labels[batchIdx] = x, y
	}
	ds, err := NewInMemoryDataset("regression", xs, labels)
	require.NoError(t, err)
	return ds
}

func newRegressionTrainer(t *testing.T, extraMetrics ...metrics.Interface) *Trainer {
	m := layers.Linear(1, 2)
	require.NoError(t, m.Initialize(nil, nil))
	opt := optimizers.StochasticGradientDescent().LearningRate(0.1).Done()
	return NewTrainer(m, losses.MeanSquaredError, opt, extraMetrics...)
}

func TestTrainerReducesLoss(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	trainDS := regressionDataset(t, rng, 4, 8)
	evalDS := regressionDataset(t, rng, 2, 8)
	median := metrics.NewMedianMetric("median loss", "~med", metrics.LossMetricType, nil)
	trainer := newRegressionTrainer(t, median)
	require.Len(t, trainer.TrainMetrics(), 3)

	initial, err := trainer.Eval(evalDS)
	require.NoError(t, err)
	evalDS.Reset()

	loop := NewLoop(trainer)
	assert.Equal(t, 0, loop.LoopStep)
	trainMetrics, err := loop.RunSteps(trainDS.Infinite(true).Shuffle(rng), 300)
	require.NoError(t, err)
	require.Len(t, trainMetrics, 3)
	assert.Equal(t, 300, trainer.GlobalStep())
	assert.Equal(t, 300, loop.LoopStep)
	assert.Len(t, loop.TrainStepDurations, 300)
	assert.Positive(t, loop.MedianTrainStepDuration())

	final, err := trainer.Eval(evalDS)
	require.NoError(t, err)
	assert.Less(t, final[0], initial[0]/100)
	assert.Less(t, final[0], 1e-3)

	// The learned weights approximate the generating function.
	m := trainer.Model()
	assert.InDeltaSlice(t, []float32{2, -1}, m.Param("W").Flat(), 0.05)
	assert.InDelta(t, 0.5, m.Param("b").Flat()[0], 0.05)
	for _, g := range m.Gradients() {
		assert.Zero(t, g)
	}

	// EvalStep doesn't change anything.
	x, labels, err := evalDS.Yield()
	require.Equal(t, io.EOF, err)
	evalDS.Reset()
	x, labels, err = evalDS.Yield()
	require.NoError(t, err)
	loss0, err := trainer.EvalStep(x, labels)
	require.NoError(t, err)
	loss1, err := trainer.EvalStep(x, labels)
	require.NoError(t, err)
	assert.Equal(t, loss0, loss1)
	assert.Equal(t, 300, trainer.GlobalStep())
}

func TestRunEpochs(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	ds := regressionDataset(t, rng, 5, 4)
	trainer := newRegressionTrainer(t)
	loop := NewLoop(trainer)

	var epochsSeen []int
	loop.OnStep("epochs", 0, func(loop *Loop, _ []float64) error {
		epochsSeen = append(epochsSeen, loop.Epoch)
		return nil
	})
	var endStep int
	loop.OnEnd("end", 0, func(loop *Loop, metrics []float64) error {
		endStep = loop.EndStep
		assert.Len(t, metrics, 2)
		return nil
	})
	_, err := loop.RunEpochs(ds, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 2, 2, 2, 2, 2}, epochsSeen)
	assert.Equal(t, 15, trainer.GlobalStep())
	assert.Equal(t, 15, endStep)

	// RunSteps requires an infinite dataset.
	ds.Reset()
	_, err = loop.RunSteps(ds, 6)
	require.Error(t, err)

	empty, err := NewInMemoryDataset("empty", nil, nil)
	require.NoError(t, err)
	_, err = loop.RunEpochs(empty, 1)
	require.Error(t, err)
	_, err = NewInMemoryDataset("mismatch", []any{tensors.Zeros(1, 2)}, nil)
	require.Error(t, err)
}

func TestHooksPriority(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	ds := regressionDataset(t, rng, 2, 4).Infinite(true)
	loop := NewLoop(newRegressionTrainer(t))

	var calls []string
	record := func(name string) OnStepFn {
		return func(_ *Loop, _ []float64) error {
			calls = append(calls, name)
			return nil
		}
	}
	loop.OnStep("late", 10, record("late"))
	loop.OnStep("early", -5, record("early"))
	loop.OnStep("middle-1", 0, record("middle-1"))
	loop.OnStep("middle-2", 0, record("middle-2"))
	loop.OnStart("start", 0, func(_ *Loop, ds Dataset) error {
		calls = append(calls, "start:"+ds.Name())
		return nil
	})
	loop.OnEnd("end", 0, func(_ *Loop, _ []float64) error {
		calls = append(calls, "end")
		return nil
	})
	_, err := loop.RunSteps(ds, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"start:regression", "early", "middle-1", "middle-2", "late", "end"}, calls)

	// A failing hook interrupts the loop, and the following hooks are not called.
	calls = nil
	loop.OnStep("failing", 5, func(_ *Loop, _ []float64) error { return io.ErrUnexpectedEOF })
	_, err = loop.RunSteps(ds, 3)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), `OnStep(hook "failing")`)
	assert.Equal(t, []string{"start:regression", "early", "middle-1", "middle-2"}, calls)
}

func TestNonFiniteLossAborts(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 2))
	ds := regressionDataset(t, rng, 2, 4).Infinite(true)
	m := layers.Linear(1, 2)
	require.NoError(t, m.Initialize(nil, nil))
	weightsBefore := append([]float32(nil), m.Weights()...)

	calls := 0
	nanLoss := func(predictions, labels *tensors.Tensor) (float64, *tensors.Tensor, error) {
		calls++
		loss, grad, err := losses.MeanSquaredError(predictions, labels)
		if calls == 3 {
			loss = math.NaN()
		}
		return loss, grad, err
	}
	trainer := NewTrainer(m, nanLoss, optimizers.StochasticGradientDescent().Done())
	loop := NewLoop(trainer)
	_, err := loop.RunSteps(ds, 5)
	require.ErrorIs(t, err, ErrNonFiniteLoss)
	assert.Equal(t, 2, trainer.GlobalStep())
	assert.Equal(t, 2, loop.LoopStep)
	assert.NotEqual(t, weightsBefore, m.Weights())

	infLoss := func(predictions, labels *tensors.Tensor) (float64, *tensors.Tensor, error) {
		_, grad, err := losses.MeanSquaredError(predictions, labels)
		return math.Inf(1), grad, err
	}
	trainer = NewTrainer(m, infLoss, optimizers.StochasticGradientDescent().Done())
	weightsBefore = append(weightsBefore[:0], m.Weights()...)
	_, err = trainer.TrainStep(tensors.Zeros(2, 2), tensors.Zeros(2, 1))
	require.ErrorIs(t, err, ErrNonFiniteLoss)
	assert.Equal(t, weightsBefore, m.Weights())
	assert.Equal(t, 0, trainer.GlobalStep())
}

func TestTrainerErrors(t *testing.T) {
	trainer := newRegressionTrainer(t)
	_, err := trainer.TrainStep(tensors.Zeros(2, 3), tensors.Zeros(2, 1))
	require.ErrorIs(t, err, model.ErrShapeInference)
	_, err = trainer.TrainStep(tensors.Zeros(2, 2), tensors.Zeros(3, 1))
	require.Error(t, err)
	assert.Equal(t, 0, trainer.GlobalStep())

	ragged := NewTrainer(layers.MeanPool(), losses.MeanSquaredError, optimizers.StochasticGradientDescent().Done())
	_, err = ragged.EvalStep("not a batch", tensors.Zeros(1, 1))
	require.Error(t, err)
}

func TestLoopCallbacks(t *testing.T) {
	rng := rand.New(rand.NewPCG(4, 4))
	ds := regressionDataset(t, rng, 3, 4)
	loop := NewLoop(newRegressionTrainer(t))

	var nTimesSteps, everySteps, exponentialSteps []int
	NTimesDuringLoop(loop, 4, "n-times", 0, func(loop *Loop, _ []float64) error {
		nTimesSteps = append(nTimesSteps, loop.LoopStep)
		return nil
	})
	EveryNSteps(loop, 7, "every", 0, func(loop *Loop, _ []float64) error {
		everySteps = append(everySteps, loop.LoopStep)
		return nil
	})
	ExponentialCallback(loop, 5, 2, false, "exponential", 0, func(loop *Loop, _ []float64) error {
		exponentialSteps = append(exponentialSteps, loop.LoopStep)
		return nil
	})
	_, err := loop.RunSteps(ds.Infinite(true), 20)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4, 9, 14, 19}, nTimesSteps)
	assert.Equal(t, []int{6, 13}, everySteps)
	assert.Equal(t, []int{5, 15}, exponentialSteps)

	// With a single epoch the end step is unknown while running, and the last step is reported at the end.
	nTimesSteps = nil
	ds.Infinite(false).Reset()
	_, err = loop.RunEpochs(ds, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{22}, nTimesSteps)

	require.Panics(t, func() { ExponentialCallback(loop, 0, 2, false, "bad", 0, nil) })
	require.Panics(t, func() { EveryNSteps(loop, 0, "bad", 0, nil) })
}
