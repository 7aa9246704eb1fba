package service

import (
	"context"
	"errors"

	"github.com/noah-isme/isotope-submissions-api/internal/repository"
	appErrors "github.com/noah-isme/isotope-submissions-api/pkg/errors"
)

// translateStoreError maps repository failures onto API errors. Errors that
// are already *appErrors.Error pass through unchanged.
func translateStoreError(err error, notFoundMessage string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, repository.ErrNotFound):
		return appErrors.Clone(appErrors.ErrNotFound, notFoundMessage)
	case errors.Is(err, repository.ErrStaleRecord):
		return appErrors.Wrap(err, appErrors.ErrInvalidTransition.Code, appErrors.ErrInvalidTransition.Status, "submission was reviewed concurrently")
	case errors.Is(err, repository.ErrDuplicatePromotion):
		return appErrors.Wrap(err, appErrors.ErrInconsistentState.Code, appErrors.ErrInconsistentState.Status,
			"a published measurement already exists for this pending submission; run reconciliation")
	case errors.Is(err, repository.ErrStorageUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return appErrors.WrapStorage(err, "")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}
}
