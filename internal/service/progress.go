package service

import (
	"sync"
	"time"
)

// Stage is one step of the ingestion progress sequence.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageUploading  Stage = "uploading"
	StageChunking   Stage = "chunking"
	StageIndexing   Stage = "indexing"
	StageStoring    Stage = "storing"
	StageProcessing Stage = "processing"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
)

// The backend emits no stage events, so the sequence is simulated from
// elapsed time. Past the last timed step the reporter stays on "processing"
// until the real outcome arrives.
type stageStep struct {
	stage Stage
	d     time.Duration
}

var ingestStages = []stageStep{
	{StageUploading, 2 * time.Second},
	{StageChunking, 4 * time.Second},
	{StageIndexing, 6 * time.Second},
	{StageStoring, 4 * time.Second},
}

// Progress is a point-in-time view of an ingestion attempt.
type Progress struct {
	Stage     Stage         `json:"stage"`
	SessionID string        `json:"session_id,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Error     string        `json:"error,omitempty"`
}

// Reporter animates ingestion progress. It is a best-effort estimate driven
// by elapsed time; real completion or failure short-circuits the simulated
// sequence immediately.
type Reporter struct {
	mu        sync.Mutex
	startedAt time.Time
	running   bool
	sessionID string
	terminal  Stage // "", StageComplete or StageError
	errMsg    string
	now       func() time.Time
}

// NewReporter creates an idle reporter.
func NewReporter() *Reporter {
	return &Reporter{now: time.Now}
}

// Start resets the reporter for a new ingestion attempt.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startedAt = r.now()
	r.running = true
	r.sessionID = ""
	r.terminal = ""
	r.errMsg = ""
}

// Observe records the session id once the upload step has returned one, so
// it is visible before indexing finishes.
func (r *Reporter) Observe(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = sessionID
}

// Complete short-circuits to the complete stage.
func (r *Reporter) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminal = StageComplete
}

// Fail short-circuits to the error stage carrying the real error message.
func (r *Reporter) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminal = StageError
	if err != nil {
		r.errMsg = err.Error()
	}
}

// Snapshot returns the current progress view.
func (r *Reporter) Snapshot() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return Progress{Stage: StageIdle}
	}
	elapsed := r.now().Sub(r.startedAt)
	p := Progress{SessionID: r.sessionID, Elapsed: elapsed}

	switch r.terminal {
	case StageComplete:
		p.Stage = StageComplete
		return p
	case StageError:
		p.Stage = StageError
		p.Error = r.errMsg
		return p
	}

	remaining := elapsed
	for _, step := range ingestStages {
		if remaining < step.d {
			p.Stage = step.stage
			return p
		}
		remaining -= step.d
	}
	p.Stage = StageProcessing
	return p
}
