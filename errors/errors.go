package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrEmptyMessage       = fmt.Errorf("message needs a text body or an attachment")
	ErrUnauthorized       = fmt.Errorf("not a participant of this conversation")
	ErrProposalNotFound   = fmt.Errorf("proposal not found")
	ErrConversationClosed = fmt.Errorf("proposal is resolved, conversation is read-only")
	ErrAttachmentTooLarge = fmt.Errorf("attachment exceeds the configured size limit")
	ErrWorkerPanic        = fmt.Errorf("worker panic")
)

// HTTPStatus maps domain errors to HTTP status codes at the transport edge.
// Anything unmapped is a store or infrastructure failure and must surface
// as a 500, never be swallowed.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case stderrors.Is(err, ErrEmptyMessage):
		return http.StatusBadRequest
	case stderrors.Is(err, ErrAttachmentTooLarge):
		return http.StatusRequestEntityTooLarge
	case stderrors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case stderrors.Is(err, ErrProposalNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, ErrConversationClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
