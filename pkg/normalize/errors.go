package normalize

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/nis/pkg/facts"
)

// Normalization errors. Record-level errors are collected in Result.Rejected
// and never abort a run; ErrSourceUnavailable aborts the run for that source.
var (
	// ErrNormalization is the root of every per-record failure
	ErrNormalization = errors.New("normalization error")
	// ErrUnmappedCode is returned when a source code has no entry in the dimension's code list
	ErrUnmappedCode = fmt.Errorf("%w: unmapped code", ErrNormalization)
	// ErrMissingUnit is returned when neither the record nor the source declares a unit for the measure
	ErrMissingUnit = fmt.Errorf("%w: missing unit", ErrNormalization)
	// ErrInvalidValue is returned when an observation value is not numeric
	ErrInvalidValue = fmt.Errorf("%w: invalid value", ErrNormalization)
	// ErrMalformedRecord is returned for records with a wrong shape, e.g. too few columns
	ErrMalformedRecord = fmt.Errorf("%w: malformed record", ErrNormalization)

	// ErrSourceUnavailable is returned when a source cannot be read at all
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrInvalidFormat is returned when a source does not follow its declared format
	ErrInvalidFormat = fmt.Errorf("%w: invalid format", ErrSourceUnavailable)
	// ErrUnsupportedSourceType is returned for a source type without an adapter
	ErrUnsupportedSourceType = fmt.Errorf("%w: unsupported source type", ErrSourceUnavailable)

	// ErrSourceNotFound is returned when a source id is not registered
	ErrSourceNotFound = errors.New("source not found")
	// ErrSourceExists is returned when registering a source id twice
	ErrSourceExists = errors.New("source already registered")
	// ErrInvalidSource is returned when a source definition fails validation
	ErrInvalidSource = errors.New("invalid source definition")
)

// RecordError ties a per-record failure to the record it came from.
type RecordError struct {
	Provenance facts.Provenance
	Err        error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provenance, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
