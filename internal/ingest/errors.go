package ingest

import "errors"

// Error taxonomy for the pipeline. Callers match with errors.Is.
var (
	// ErrConfigIncomplete means required credentials are missing; no connection is attempted.
	ErrConfigIncomplete = errors.New("telegram configuration incomplete")
	// ErrSessionInvalid means a persisted session could not be reused and was discarded.
	ErrSessionInvalid = errors.New("telegram session invalid")
	// ErrVerificationTimeout means no valid code was submitted before the relay deadline.
	ErrVerificationTimeout = errors.New("verification code wait timed out")
	// ErrProviderRateLimited means the platform refused to send more codes.
	ErrProviderRateLimited = errors.New("telegram rate limited login")
	// ErrChannelResolution means a single channel target could not be resolved.
	ErrChannelResolution = errors.New("channel resolution failed")
	// ErrImagePipeline covers download, transcode and upload failures.
	ErrImagePipeline = errors.New("image pipeline failed")
	// ErrDatastore wraps failures of the shared relational store.
	ErrDatastore = errors.New("datastore error")
)
