package model

import "errors"

// ProcessingResult classifies the outcome of processing an archive or a
// bootstrap batch.
type ProcessingResult int

const (
	// ResultSuccess means every entry was handled.
	ResultSuccess ProcessingResult = iota
	// ResultRecoverableError is a generic failure; the app stays usable.
	ResultRecoverableError
	// ResultWrongDeploymentError means the archive was built for another
	// deployment and nothing from it was installed.
	ResultWrongDeploymentError
)

// String returns the metric/log label of the result.
func (r ProcessingResult) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultRecoverableError:
		return "recoverable_error"
	case ResultWrongDeploymentError:
		return "wrong_deployment"
	default:
		return "unknown"
	}
}

// ResultFromError maps an error to its processing result. A nil error is a
// success; anything not recognised is recoverable.
func ResultFromError(err error) ProcessingResult {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrWrongDeployment):
		return ResultWrongDeploymentError
	default:
		return ResultRecoverableError
	}
}
