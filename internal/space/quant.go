package space

import (
	"fmt"

	"github.com/GoSim-25-26J-441/quant-hpo/pkg/config"
)

// Names of the quantization hyperparameters
const (
	ParamAlgo                 = "algo"
	ParamBiasCorrect          = "bias_correct"
	ParamWeightQuantizeMethod = "weight_quantize_method"
	ParamHistPercent          = "hist_percent"
	ParamBatchSize            = "batch_size"
	ParamBatchNum             = "batch_num"
)

// DefaultAlgos are the activation threshold algorithms searched by default
var DefaultAlgos = []string{"KL", "hist", "avg", "mse"}

// QuantSpace builds the post-training quantization search space. The weight
// quantize method is pinned to weightQuantizeType; overrides may narrow the
// other dimensions.
func QuantSpace(weightQuantizeType string, overrides *config.Space) (*Space, error) {
	algos := DefaultAlgos
	biasChoices := []any{true, false}
	biasDefault := false
	hist := config.FloatRange{Min: 0.98, Max: 0.999, Default: 0.99}
	batchSize := config.IntRange{Min: 10, Max: 30, Default: 10}
	batchNum := config.IntRange{Min: 10, Max: 30, Default: 10}

	if overrides != nil {
		if len(overrides.Algos) > 0 {
			algos = overrides.Algos
		}
		if len(overrides.BiasCorrect) > 0 {
			biasChoices = make([]any, len(overrides.BiasCorrect))
			for i, b := range overrides.BiasCorrect {
				biasChoices[i] = b
			}
			biasDefault = overrides.BiasCorrect[0]
			for _, b := range overrides.BiasCorrect {
				if !b {
					biasDefault = false
				}
			}
		}
		if overrides.HistPercent != nil {
			hist = *overrides.HistPercent
		}
		if overrides.BatchSize != nil {
			batchSize = *overrides.BatchSize
		}
		if overrides.BatchNum != nil {
			batchNum = *overrides.BatchNum
		}
	}

	algoChoices := make([]any, len(algos))
	for i, a := range algos {
		algoChoices[i] = a
	}
	algoDefault := algoChoices[0]
	for _, a := range algos {
		if a == "KL" {
			algoDefault = "KL"
		}
	}

	algo, err := Categorical(ParamAlgo, algoChoices, algoDefault)
	if err != nil {
		return nil, err
	}
	bias, err := Categorical(ParamBiasCorrect, biasChoices, biasDefault)
	if err != nil {
		return nil, err
	}
	if weightQuantizeType == "" {
		return nil, fmt.Errorf("%w: weight quantize type is required", ErrInvalidDomain)
	}
	wqm, err := Categorical(ParamWeightQuantizeMethod, []any{weightQuantizeType}, weightQuantizeType)
	if err != nil {
		return nil, err
	}
	hp, err := UniformFloat(ParamHistPercent, hist.Min, hist.Max, hist.Default, false)
	if err != nil {
		return nil, err
	}
	bs, err := UniformInteger(ParamBatchSize, batchSize.Min, batchSize.Max, batchSize.Default)
	if err != nil {
		return nil, err
	}
	bn, err := UniformInteger(ParamBatchNum, batchNum.Min, batchNum.Max, batchNum.Default)
	if err != nil {
		return nil, err
	}

	s := New()
	if err := s.Add(algo, bias, wqm, hp, bs, bn); err != nil {
		return nil, err
	}
	return s, nil
}
