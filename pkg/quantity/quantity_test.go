package quantity

import (
	"encoding/json"
	"testing"

	"github.com/ethpandaops/nis/pkg/expr"
	"github.com/ethpandaops/nis/pkg/uncertainty"
	"github.com/ethpandaops/nis/pkg/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func q(t *testing.T, v float64, unit string) Quantity {
	t.Helper()

	out, err := Parse(v, unit)
	require.NoError(t, err)

	return out
}

func TestAddCommutesAcrossUnits(t *testing.T) {
	pairs := []struct {
		a, b Quantity
	}{
		{Must(Parse(1.5, "t")), Must(Parse(250, "kg"))},
		{Must(Parse(3, "kWh")), Must(Parse(7.2, "MJ"))},
		{Must(Parse(2, "ha")), Must(Parse(5000, "m2"))},
		{Must(Parse(1, "l")), Must(Parse(1, "m3"))},
	}

	for _, p := range pairs {
		t.Run(p.a.String()+"+"+p.b.String(), func(t *testing.T) {
			for _, target := range []units.Unit{p.a.Unit, p.b.Unit} {
				a, err := Convert(p.a, target)
				require.NoError(t, err)

				ab, err := Combine(Add, a, p.b)
				require.NoError(t, err)

				ba, err := Combine(Add, p.b, a)
				require.NoError(t, err)

				ba, err = Convert(ba, ab.Unit)
				require.NoError(t, err)

				assert.InDelta(t, ab.Value, ba.Value, 1e-9*ab.Value)
			}

			left, err := Combine(Add, p.a, p.b)
			require.NoError(t, err)

			right, err := Combine(Add, p.b, p.a)
			require.NoError(t, err)

			assert.True(t, ApproxEqual(left, right, 1e-9*left.Value))
		})
	}
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name     string
		op       Op
		a, b     Quantity
		want     float64
		wantUnit string
		wantSD   float64
		wantErr  error
	}{
		{
			name:     "add converts to left unit",
			op:       Add,
			a:        q(t, 1, "t"),
			b:        q(t, 500, "kg"),
			want:     1.5,
			wantUnit: "t",
		},
		{
			name:     "sub with uncertainty",
			op:       Sub,
			a:        q(t, 10, "kg").WithUncertainty(uncertainty.PlusMinus(0.3)),
			b:        q(t, 4000, "g").WithUncertainty(uncertainty.PlusMinus(400)),
			want:     6,
			wantUnit: "kg",
			wantSD:   0.5,
		},
		{
			name:     "mul combines exponents",
			op:       Mul,
			a:        q(t, 3, "t/ha"),
			b:        q(t, 20, "ha"),
			want:     60,
			wantUnit: "t/ha*ha",
		},
		{
			name:     "div",
			op:       Div,
			a:        q(t, 100, "km"),
			b:        q(t, 2, "h"),
			want:     50,
			wantUnit: "km/h",
		},
		{
			name:    "incompatible add",
			op:      Add,
			a:       q(t, 1, "kg"),
			b:       q(t, 1, "m"),
			wantErr: units.ErrIncompatibleUnits,
		},
		{
			name:    "division singularity",
			op:      Div,
			a:       q(t, 10, "kg").WithUncertainty(uncertainty.PlusMinus(2)),
			b:       q(t, 0, "s").WithUncertainty(uncertainty.PlusMinus(1)),
			wantErr: uncertainty.ErrDivisionSingularity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Combine(tt.op, tt.a, tt.b)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.InDelta(t, tt.want, got.Value, 1e-9)
			assert.Equal(t, tt.wantUnit, got.Unit.String())
			assert.InDelta(t, tt.wantSD, got.Uncertainty.StdDev(), 1e-9)
		})
	}
}

func TestMulYieldByArea(t *testing.T) {
	production, err := Combine(Mul, q(t, 3, "t/ha"), q(t, 20, "ha"))
	require.NoError(t, err)

	inKg, err := Convert(production, units.MustParse("kg"))
	require.NoError(t, err)
	assert.InDelta(t, 60000, inKg.Value, 1e-6)
}

func TestSymbolicDefersUncertainty(t *testing.T) {
	yield := Symbolic(expr.MustParse("base_yield * factor"), units.MustParse("t/ha"))
	area := q(t, 20, "ha").WithUncertainty(uncertainty.PlusMinus(2))

	production, err := Combine(Mul, yield, area)
	require.NoError(t, err)
	require.True(t, production.IsSymbolic())
	assert.Equal(t, []string{"base_yield", "factor"}, production.Params())
	assert.True(t, production.Uncertainty.IsPoint())

	partial, err := production.Substitute(expr.Env{"factor": 2})
	require.NoError(t, err)
	assert.True(t, partial.IsSymbolic())
	assert.Equal(t, []string{"base_yield"}, partial.Params())

	_, err = partial.Evaluate(nil)
	require.ErrorIs(t, err, expr.ErrUnbound)

	got, err := partial.Evaluate(expr.Env{"base_yield": 1.5})
	require.NoError(t, err)
	assert.False(t, got.IsSymbolic())
	assert.InDelta(t, 60, got.Value, 1e-9)
	assert.InDelta(t, 6, got.Uncertainty.StdDev(), 1e-9)
	assert.Equal(t, uncertainty.KindInterval, got.Uncertainty.Kind)

	// The original expression is untouched by substitution.
	assert.Equal(t, []string{"base_yield", "factor"}, production.Params())
}

func TestSymbolicAddConverts(t *testing.T) {
	s := Symbolic(expr.MustParse("x"), units.MustParse("t"))

	sum, err := Combine(Add, s, q(t, 500, "kg"))
	require.NoError(t, err)

	got, err := sum.Evaluate(expr.Env{"x": 2})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, got.Value, 1e-9)
	assert.Equal(t, "t", got.Unit.String())

	inKg, err := Convert(sum, units.MustParse("kg"))
	require.NoError(t, err)

	got, err = inKg.Evaluate(expr.Env{"x": 2})
	require.NoError(t, err)
	assert.InDelta(t, 2500, got.Value, 1e-9)
}

func TestSymbolicDivisionSingularity(t *testing.T) {
	s := Symbolic(expr.MustParse("x"), units.MustParse("kg"))

	ratio, err := Combine(Div, s, q(t, 0, "s").WithUncertainty(uncertainty.PlusMinus(1)))
	require.NoError(t, err)

	_, err = ratio.Evaluate(expr.Env{"x": 10})
	require.ErrorIs(t, err, uncertainty.ErrDivisionSingularity)
}

func TestJSON(t *testing.T) {
	orig := q(t, 12.5, "t").WithUncertainty(uncertainty.Normal(0.5))

	b, err := json.Marshal(orig)
	require.NoError(t, err)

	var back Quantity
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, orig.Value, back.Value)
	assert.True(t, orig.Unit.Same(back.Unit))
	assert.Equal(t, orig.Uncertainty, back.Uncertainty)

	sym := Symbolic(expr.MustParse("a * 2"), units.MustParse("kg"))
	b, err = json.Marshal(sym)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, "a * 2", back.Expr.String())
}
