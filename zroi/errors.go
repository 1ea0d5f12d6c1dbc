package zroi

import "errors"

// Error kinds returned across zroi.  Failures wrap one of these with additional
// context, so callers should test with errors.Is.
var (
	// ErrMissingColumn is returned when a requested position or length column
	// is absent from a ROI table.
	ErrMissingColumn = errors.New("missing column")

	// ErrUnknownRoi is returned when a named ROI is not in the table.
	ErrUnknownRoi = errors.New("unknown roi")

	// ErrInvalidPixelSize is returned when a pixel size component is not
	// strictly positive.
	ErrInvalidPixelSize = errors.New("invalid pixel size")

	// ErrInvalidTable is returned when a ROI table holds NaN or infinite
	// positions or lengths.
	ErrInvalidTable = errors.New("invalid roi table")

	// ErrEmptyTable is returned when an operation needs at least one ROI.
	ErrEmptyTable = errors.New("empty roi table")

	// ErrEmptyScaleMap is returned when there are no pyramid levels to pick from.
	ErrEmptyScaleMap = errors.New("empty scale map")

	// ErrDimensionMismatch is returned when scale vectors cannot be compared.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrNoScaleTransformation is returned when a multiscale dataset carries
	// no coordinate transformation of type "scale".
	ErrNoScaleTransformation = errors.New("no scale transformation")

	// ErrNotFound is returned when a table, metadata document or array is absent
	// from storage.
	ErrNotFound = errors.New("not found")

	// ErrUnmountedLocation is returned when a storage manager limited to its
	// mounted stores is asked for any other location.
	ErrUnmountedLocation = errors.New("location outside mounted stores")

	// ErrInvalidMetadata is returned for malformed zarr or OME-NGFF metadata.
	ErrInvalidMetadata = errors.New("invalid metadata")

	// ErrUnsupportedCodec is returned for chunk compressors or filters we can't decode.
	ErrUnsupportedCodec = errors.New("unsupported codec")

	// ErrInvalidSelection is returned by selection transitions given choices
	// that are not offered.
	ErrInvalidSelection = errors.New("invalid selection")

	// ErrInvalidArguments is returned when task arguments fail schema validation.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrNotImplemented is returned for task options that aren't supported yet.
	ErrNotImplemented = errors.New("not implemented")
)

// IsValidationError returns true if the error stems from bad caller input rather
// than storage or an internal failure.
func IsValidationError(err error) bool {
	for _, kind := range []error{
		ErrMissingColumn, ErrInvalidPixelSize, ErrInvalidTable, ErrEmptyTable, ErrEmptyScaleMap,
		ErrDimensionMismatch, ErrInvalidSelection, ErrInvalidArguments, ErrNotImplemented,
		ErrUnmountedLocation,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
