// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line: a progress bar
// for train.Loop, evaluation reports and parsing of hyperparameters from flags.
package commandline

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/koaning/thinc/ml/train"
	"github.com/pkg/errors"
)

// ReportEval reports on the command line the results of evaluating the datasets using trainer.Eval.
// Each dataset is reset after being evaluated.
func ReportEval(trainer *train.Trainer, datasets ...train.Dataset) error {
	fmt.Printf("Evaluation after %s steps:\n", humanize.Comma(int64(trainer.GlobalStep())))
	for _, ds := range datasets {
		metricsValues, err := trainer.Eval(ds)
		ds.Reset()
		if err != nil {
			return errors.WithMessagef(err, "ReportEval(%q)", ds.Name())
		}
		fmt.Printf("Results on %s:\n", ds.Name())
		for metricIdx, metric := range trainer.EvalMetrics() {
			fmt.Printf("\t%s (%s): %s\n", metric.Name(), metric.ShortName(), metric.PrettyPrint(metricsValues[metricIdx]))
		}
	}
	return nil
}
