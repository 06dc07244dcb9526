package generation

import "errors"

var (
	ErrJobNotFound       = errors.New("generation job not found")
	ErrInvalidPrompt     = errors.New("prompt is required")
	ErrTooManyReferences = errors.New("too many reference images")
	ErrClaimLost         = errors.New("job is no longer held by this worker")
	ErrUpstreamFailure   = errors.New("image generation failed")
	ErrStorageFailure    = errors.New("generated image could not be stored")
)
