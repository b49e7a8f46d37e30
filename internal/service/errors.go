package service

import "errors"

// Domain errors are synchronous and non-retryable; none of them leave
// partial state behind.
var (
	ErrValidationFailed   = errors.New("service: validation failed")
	ErrNotAssignee        = errors.New("service: actor is not an assignee")
	ErrNotReviewer        = errors.New("service: actor is not the reviewer")
	ErrNotCreator         = errors.New("service: actor is not the creator")
	ErrInvalidState       = errors.New("service: transition not allowed from current status")
	ErrAttachmentRequired = errors.New("service: task requires a file attachment")
	ErrTaskNotFound       = errors.New("service: task not found")
	ErrTemplateNotFound   = errors.New("service: template not found")
	// ErrInvalidTemplate marks a permanently malformed template; the
	// scheduler excludes it from future ticks pending manual correction.
	ErrInvalidTemplate = errors.New("service: template is malformed")
	// ErrConflict is returned to the loser of a concurrent workflow call.
	ErrConflict = errors.New("service: concurrent modification, reload and retry")
)
