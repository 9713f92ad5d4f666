package cube

import (
	"fmt"
	"math"
	"strings"

	"github.com/ethpandaops/nis/pkg/quantity"
	"github.com/ethpandaops/nis/pkg/uncertainty"
)

// AggFunc names how the quantities of one group are combined. Every
// function is applied to a whole group at once, so groups can be reduced
// in parallel.
type AggFunc string

// Supported aggregation functions.
const (
	Sum  AggFunc = "sum"
	Mean AggFunc = "mean"
	// WeightedMean weights each value by its inverse variance. When any
	// value of the group has no uncertainty it falls back to Mean.
	WeightedMean AggFunc = "weighted-mean"
)

// ParseAggFunc resolves a configured name; empty means Sum.
func ParseAggFunc(s string) (AggFunc, error) {
	switch AggFunc(strings.ToLower(strings.TrimSpace(s))) {
	case "", Sum:
		return Sum, nil
	case Mean, "avg":
		return Mean, nil
	case WeightedMean, "weighted_mean", "wmean":
		return WeightedMean, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAggFunc, s)
	}
}

// Apply reduces qs, expressed in the unit of the first one.
func (a AggFunc) Apply(qs []quantity.Quantity) (quantity.Quantity, error) {
	if len(qs) == 0 {
		return quantity.Quantity{}, fmt.Errorf("%w: empty group", ErrAggregation)
	}

	converted := make([]quantity.Quantity, len(qs))
	converted[0] = qs[0]

	for i := 1; i < len(qs); i++ {
		q, err := quantity.Convert(qs[i], qs[0].Unit)
		if err != nil {
			return quantity.Quantity{}, fmt.Errorf("%w: %s and %s: %w", ErrMixedUnitAggregation, qs[0].Unit, qs[i].Unit, err)
		}

		converted[i] = q
	}

	switch a {
	case Sum, "":
		return quantity.Sum(converted...)
	case Mean:
		return mean(converted)
	case WeightedMean:
		return weightedMean(converted)
	default:
		return quantity.Quantity{}, fmt.Errorf("%w: %q", ErrUnknownAggFunc, string(a))
	}
}

func mean(qs []quantity.Quantity) (quantity.Quantity, error) {
	total, err := quantity.Sum(qs...)
	if err != nil {
		return quantity.Quantity{}, err
	}

	return quantity.Scale(total, 1/float64(len(qs))), nil
}

func weightedMean(qs []quantity.Quantity) (quantity.Quantity, error) {
	us := make([]uncertainty.Uncertainty, len(qs))

	for i, q := range qs {
		if q.IsSymbolic() {
			return quantity.Quantity{}, ErrSymbolicMean
		}

		us[i] = q.Uncertainty
	}

	weights, ok := uncertainty.InverseVarianceWeights(us)
	if !ok {
		return mean(qs)
	}

	var value, precision float64

	for i, q := range qs {
		value += weights[i] * q.Value
		precision += 1 / q.Uncertainty.Variance()
	}

	return quantity.New(value, qs[0].Unit).WithUncertainty(uncertainty.Normal(math.Sqrt(1 / precision))), nil
}
