package domain

import "errors"

var (
	// ErrNotFound indicates the referenced session does not exist
	ErrNotFound = errors.New("session not found")
	// ErrNoActiveSession indicates a question was submitted with no session selected
	ErrNoActiveSession = errors.New("no active session")
	// ErrEmptyQuestion indicates a question was empty after trimming
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrNoSource indicates an ingestion attempt with neither a URL nor files
	ErrNoSource = errors.New("no repository source supplied")
	// ErrIngestInFlight indicates a second ingestion attempt while one is pending
	ErrIngestInFlight = errors.New("an ingestion attempt is already in flight")
	// ErrQueryInFlight indicates a question was submitted while a stream is open
	ErrQueryInFlight = errors.New("a query stream is already open")
)
