package errors

// Kind names a user-visible failure class of the processing pipeline.
type Kind string

const (
	KindInvalidAudio             Kind = "InvalidAudio"
	KindInvalidSegmentData       Kind = "InvalidSegmentData"
	KindAlgorithmUnavailable     Kind = "AlgorithmUnavailable"
	KindModelServerUnavailable   Kind = "ModelServerUnavailable"
	KindModelServerError         Kind = "ModelServerError"
	KindSpeciesMismatch          Kind = "SpeciesMismatch"
	KindInsufficientTrainingData Kind = "InsufficientTrainingData"
	KindCancelled                Kind = "Cancelled"
	KindValidationFailure        Kind = "ValidationFailure"
	KindInternal                 Kind = "Internal"
)

// Sentinel errors for each failure kind. Pipeline code wraps these with
// fmt.Errorf("%w: ...") so callers can match with errors.Is.
var (
	ErrInvalidAudio             = NewStd("invalid audio")
	ErrInvalidSegmentData       = NewStd("invalid segment data")
	ErrAlgorithmUnavailable     = NewStd("algorithm unavailable")
	ErrModelServerUnavailable   = NewStd("model server unavailable")
	ErrModelServerError         = NewStd("model server error")
	ErrSpeciesMismatch          = NewStd("species mismatch")
	ErrInsufficientTrainingData = NewStd("insufficient training data")
	ErrCancelled                = NewStd("cancelled")
	ErrValidation               = NewStd("validation failure")
)

var kindTable = []struct {
	sentinel error
	kind     Kind
	category ErrorCategory
}{
	{ErrInvalidAudio, KindInvalidAudio, CategoryInvalidAudio},
	{ErrInvalidSegmentData, KindInvalidSegmentData, CategoryInvalidSegmentData},
	{ErrAlgorithmUnavailable, KindAlgorithmUnavailable, CategoryAlgorithmUnavailable},
	{ErrModelServerUnavailable, KindModelServerUnavailable, CategoryModelServerUnavailable},
	{ErrModelServerError, KindModelServerError, CategoryModelServerError},
	{ErrSpeciesMismatch, KindSpeciesMismatch, CategorySpeciesMismatch},
	{ErrInsufficientTrainingData, KindInsufficientTrainingData, CategoryInsufficientData},
	{ErrCancelled, KindCancelled, CategoryCancellation},
	{ErrValidation, KindValidationFailure, CategoryValidation},
}

// KindOf classifies err into one of the pipeline failure kinds. Errors that
// wrap no known sentinel and carry no known category are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kindTable {
		if Is(err, k.sentinel) {
			return k.kind
		}
	}
	var ee *EnhancedError
	if As(err, &ee) {
		for _, k := range kindTable {
			if ee.Category == k.category {
				return k.kind
			}
		}
	}
	return KindInternal
}

func categoryFromSentinel(err error) ErrorCategory {
	if err == nil {
		return CategoryGeneric
	}
	for _, k := range kindTable {
		if Is(err, k.sentinel) {
			return k.category
		}
	}
	return CategoryGeneric
}
