package model

import (
	"fmt"
	"math"
)

// Scaler standardizes feature vectors to zero mean and unit variance using
// statistics fitted on the training window. Like the encoder, the fitted
// statistics are frozen into the model artifact.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes per-feature mean and standard deviation.
func FitScaler(data [][]float64) (*Scaler, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("no data to fit scaler")
	}

	dim := len(data[0])
	s := &Scaler{
		Mean: make([]float64, dim),
		Std:  make([]float64, dim),
	}

	for _, sample := range data {
		for i, v := range sample {
			s.Mean[i] += v
		}
	}
	for i := range s.Mean {
		s.Mean[i] /= float64(len(data))
	}

	for _, sample := range data {
		for i, v := range sample {
			d := v - s.Mean[i]
			s.Std[i] += d * d
		}
	}
	for i := range s.Std {
		s.Std[i] = math.Sqrt(s.Std[i] / float64(len(data)))
		if s.Std[i] == 0 {
			s.Std[i] = 1 // constant feature, avoid division by zero
		}
	}

	return s, nil
}

// Transform standardizes a single vector.
func (s *Scaler) Transform(sample []float64) []float64 {
	out := make([]float64, len(sample))
	for i, v := range sample {
		out[i] = (v - s.Mean[i]) / s.Std[i]
	}
	return out
}

// TransformAll standardizes a batch.
func (s *Scaler) TransformAll(data [][]float64) [][]float64 {
	out := make([][]float64, len(data))
	for i, sample := range data {
		out[i] = s.Transform(sample)
	}
	return out
}

// Deviations returns per-feature absolute z-scores for a raw vector, used to
// explain which features pushed an event outside learned behavior.
func (s *Scaler) Deviations(sample []float64) []float64 {
	out := make([]float64, len(sample))
	for i, v := range sample {
		out[i] = math.Abs(v-s.Mean[i]) / s.Std[i]
	}
	return out
}
