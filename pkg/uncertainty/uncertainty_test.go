package uncertainty

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropagate(t *testing.T) {
	tests := []struct {
		name     string
		op       Op
		a, b     Operand
		cov      float64
		wantKind Kind
		wantSD   float64
		wantErr  error
	}{
		{
			name:     "points stay points",
			op:       OpAdd,
			a:        Operand{Value: 1},
			b:        Operand{Value: 2},
			wantKind: KindNone,
		},
		{
			name:     "independent sum of intervals",
			op:       OpAdd,
			a:        Operand{Value: 10, Uncertainty: PlusMinus(3)},
			b:        Operand{Value: 5, Uncertainty: PlusMinus(4)},
			wantKind: KindInterval,
			wantSD:   5,
		},
		{
			name:     "fully correlated difference cancels",
			op:       OpSub,
			a:        Operand{Value: 10, Uncertainty: Normal(2)},
			b:        Operand{Value: 8, Uncertainty: Normal(2)},
			cov:      4,
			wantKind: KindNormal,
			wantSD:   0,
		},
		{
			name:     "product relative errors",
			op:       OpMul,
			a:        Operand{Value: 10, Uncertainty: Normal(1)},
			b:        Operand{Value: 2, Uncertainty: Normal(0.2)},
			wantKind: KindNormal,
			wantSD:   math.Sqrt(2*2*1 + 10*10*0.04),
		},
		{
			name:     "quotient",
			op:       OpDiv,
			a:        Operand{Value: 10, Uncertainty: PlusMinus(2)},
			b:        Operand{Value: 5},
			wantKind: KindInterval,
			wantSD:   0.4,
		},
		{
			name:     "uniform becomes normal",
			op:       OpAdd,
			a:        Operand{Value: 1, Uncertainty: Bounds(0, math.Sqrt(12))},
			b:        Operand{Value: 1},
			wantKind: KindNormal,
			wantSD:   1,
		},
		{
			name:    "divisor spans zero",
			op:      OpDiv,
			a:       Operand{Value: 10, Uncertainty: PlusMinus(2)},
			b:       Operand{Value: 0, Uncertainty: PlusMinus(1)},
			wantErr: ErrDivisionSingularity,
		},
		{
			name:    "divisor interval crosses zero",
			op:      OpDiv,
			a:       Operand{Value: 10},
			b:       Operand{Value: 0.5, Uncertainty: PlusMinus(1)},
			wantErr: ErrDivisionSingularity,
		},
		{
			name:    "invalid bounds",
			op:      OpAdd,
			a:       Operand{Value: 1, Uncertainty: Bounds(2, 1)},
			b:       Operand{Value: 1},
			wantErr: ErrInvalidDescriptor,
		},
		{
			name:    "unknown op",
			op:      Op("pow"),
			a:       Operand{Value: 1},
			b:       Operand{Value: 1},
			wantErr: ErrUnknownOp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Propagate(tt.op, tt.a, tt.b, tt.cov)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrUncertainty)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.InDelta(t, tt.wantSD, got.StdDev(), 1e-9)
		})
	}
}

func TestScale(t *testing.T) {
	u := Bounds(1, 3).Scale(-2)
	assert.Equal(t, -6.0, u.Lower)
	assert.Equal(t, -2.0, u.Upper)

	assert.InDelta(t, 0.5, PlusMinus(0.5).Scale(1).HalfWidth, 1e-12)
	assert.InDelta(t, 2000.0, Normal(2).Scale(1000).Sigma, 1e-9)
}

func TestInverseVarianceWeights(t *testing.T) {
	w, ok := InverseVarianceWeights([]Uncertainty{Normal(1), Normal(2)})
	require.True(t, ok)
	assert.InDelta(t, 0.8, w[0], 1e-12)
	assert.InDelta(t, 0.2, w[1], 1e-12)

	_, ok = InverseVarianceWeights([]Uncertainty{Normal(1), Point()})
	assert.False(t, ok)
}

func TestKindJSON(t *testing.T) {
	b, err := json.Marshal(PlusMinus(2))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"interval","half_width":2}`, string(b))

	var u Uncertainty
	require.NoError(t, json.Unmarshal(b, &u))
	assert.Equal(t, PlusMinus(2), u)

	require.Error(t, json.Unmarshal([]byte(`{"kind":"cauchy"}`), &u))
}
