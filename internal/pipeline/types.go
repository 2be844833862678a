package pipeline

import (
	"errors"
	"image"
	"time"

	"github.com/MeKo-Tech/snaprec/internal/encoder"
	"github.com/MeKo-Tech/snaprec/internal/failure"
	"github.com/MeKo-Tech/snaprec/internal/history"
	"github.com/MeKo-Tech/snaprec/internal/orientation"
	"github.com/MeKo-Tech/snaprec/internal/transform"
)

// State is the controller's position in the capture-to-result lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateUploading  State = "uploading"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Stage names one step of a run.
type Stage string

const (
	StageDecode    Stage = "decode"
	StageTransform Stage = "transform"
	StageEncode    Stage = "encode"
	StageUpload    Stage = "upload"
)

// Stages lists the stages of a full run in order.
var Stages = []Stage{StageDecode, StageTransform, StageEncode, StageUpload}

// ErrBusy is returned by Submit while a run is active.
var ErrBusy = errors.New("pipeline busy: a capture is already being processed")

// ErrClosed is returned once the controller has been closed.
var ErrClosed = errors.New("pipeline closed")

// CapturedImage is what a capture source hands the pipeline.
type CapturedImage struct {
	Data []byte
	// Width and Height are optional hints from the source, 0 when unknown.
	Width       int
	Height      int
	Orientation orientation.Tag
	// Source identifies the capture, typically a file path.
	Source string
	// Filter overrides the controller's default filter when set.
	Filter transform.Filter
}

// ProcessedImage is a normalized and filtered capture.
type ProcessedImage struct {
	ID     string
	Image  *image.NRGBA
	Filter transform.Filter
	Source string
}

// Processed bundles the output of the local stages.
type Processed struct {
	Image   ProcessedImage
	Payload *encoder.Payload
	// Preview is the processed image as JPEG at full resolution.
	Preview []byte
	Timings map[Stage]time.Duration
}

// Snapshot is an immutable view of the controller handed to observers.
type Snapshot struct {
	Seq    uint64 `json:"seq"`
	RunID  string `json:"run_id,omitempty"`
	State  State  `json:"state"`
	Source string `json:"source,omitempty"`
	Filter string `json:"filter,omitempty"`

	// Reason is a human-readable cause when State is failed.
	Reason string       `json:"reason,omitempty"`
	Kind   failure.Kind `json:"kind,omitempty"`
	Status int          `json:"status,omitempty"`

	Result *history.Result `json:"result,omitempty"`

	Width        int `json:"width,omitempty"`
	Height       int `json:"height,omitempty"`
	PayloadBytes int `json:"payload_bytes,omitempty"`

	// History holds the display-capped newest-first results.
	History    []history.Result `json:"history"`
	HistoryLen int              `json:"history_len"`

	At time.Time `json:"at"`
}

// Failed reports whether the snapshot describes a failed run.
func (s Snapshot) Failed() bool { return s.State == StateFailed }
