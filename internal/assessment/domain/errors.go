package domain

import "errors"

var (
	ErrAssessmentNotFound = errors.New("assessment not found")
	ErrNoDocument         = errors.New("assessment has no uploaded document")
	ErrAnalysisRunning    = errors.New("analysis already running for assessment")
	ErrInvalidUpload      = errors.New("invalid upload")
	ErrInvalidStatus      = errors.New("invalid assessment status")
	ErrDocumentReplaced   = errors.New("assessment document was replaced during analysis")
)
