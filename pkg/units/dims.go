package units

import (
	"sort"
	"strconv"
	"strings"
)

// Base dimensions known to the builtin registry. Currencies get one
// dimension each so EUR and USD never silently convert into one another.
const (
	DimLength      = "length"
	DimMass        = "mass"
	DimTime        = "time"
	DimCurrent     = "current"
	DimTemperature = "temperature"
	DimAmount      = "amount"
	DimLuminosity  = "luminosity"
)

// CurrencyDim returns the base dimension for an ISO currency code.
func CurrencyDim(code string) string {
	return "currency:" + strings.ToUpper(code)
}

// Dims is a vector of exponents keyed by base dimension. A nil or empty
// Dims is dimensionless. Values are treated as immutable.
type Dims map[string]int

// Equal reports whether both vectors carry the same non-zero exponents.
func (d Dims) Equal(o Dims) bool {
	for k, v := range d {
		if v != 0 && o[k] != v {
			return false
		}
	}

	for k, v := range o {
		if v != 0 && d[k] != v {
			return false
		}
	}

	return true
}

// IsZero reports whether the vector is dimensionless.
func (d Dims) IsZero() bool {
	for _, v := range d {
		if v != 0 {
			return false
		}
	}

	return true
}

func (d Dims) combine(o Dims, sign int) Dims {
	out := make(Dims, len(d)+len(o))
	for k, v := range d {
		out[k] = v
	}

	for k, v := range o {
		out[k] += sign * v
		if out[k] == 0 {
			delete(out, k)
		}
	}

	return out
}

func (d Dims) pow(n int) Dims {
	out := make(Dims, len(d))
	if n == 0 {
		return out
	}

	for k, v := range d {
		if v != 0 {
			out[k] = v * n
		}
	}

	return out
}

// String renders the vector as "[length]^2*[time]^-1", sorted by dimension name.
func (d Dims) String() string {
	keys := make([]string, 0, len(d))
	for k, v := range d {
		if v != 0 {
			keys = append(keys, k)
		}
	}

	if len(keys) == 0 {
		return "[dimensionless]"
	}

	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		p := "[" + k + "]"
		if d[k] != 1 {
			p += "^" + strconv.Itoa(d[k])
		}
		parts = append(parts, p)
	}

	return strings.Join(parts, "*")
}
