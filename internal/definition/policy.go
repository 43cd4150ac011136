package definition

import (
	"go.uber.org/zap"

	"github.com/pitabwire/fieldform/model"
)

// DegradePolicy decides what a syntax or I/O failure during a definition parse
// means for the caller. The partial tree assembled up to the failure is
// returned either way; the policy only chooses whether an error accompanies
// it.
type DegradePolicy func(logger *zap.Logger, err error) error

// Lenient logs the failure and lets the partial tree through as if the parse
// had succeeded. This is the historic ingestion behavior.
func Lenient(logger *zap.Logger, err error) error {
	logger.Warn("definition parse degraded, using partial form", zap.Error(err))
	return nil
}

// Strict logs the failure and reports it as model.ErrParseDegraded.
func Strict(logger *zap.Logger, err error) error {
	logger.Error("definition parse failed", zap.Error(err))
	return model.NewParseDegradedError(err)
}
