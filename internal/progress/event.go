package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCycleStart       Stage = "CYCLE_START"
	StageCycleDone        Stage = "CYCLE_DONE"
	StageCycleError       Stage = "CYCLE_ERROR"
	StageChannelDone      Stage = "CHANNEL_DONE"
	StageMessageNew       Stage = "MESSAGE_NEW"
	StageMessageDuplicate Stage = "MESSAGE_DUPLICATE"
	StageImageUploaded    Stage = "IMAGE_UPLOADED"
	StageImageFallback    Stage = "IMAGE_FALLBACK"
)

// Event captures a single step of cycle progress.
type Event struct {
	// CycleID identifies the cycle using the 16-byte UUID form.
	CycleID [16]byte
	// TS is the timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Channel scopes channel, message and image events to a target label.
	Channel string
	// MessageID is the platform message id for message and image events.
	MessageID int
	// Dur is the elapsed time for cycle and channel completions.
	Dur time.Duration
	// Stats is the final counter set on cycle completion events.
	Stats *ingest.CycleStats
	// Note carries low-volume context such as an error message.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CycleID == [16]byte{} {
		return errors.New("cycle id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCycleStart, StageCycleDone, StageCycleError:
	case StageChannelDone, StageMessageNew, StageMessageDuplicate, StageImageUploaded, StageImageFallback:
		if e.Channel == "" {
			return fmt.Errorf("%s requires channel", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// CycleUUID converts the binary cycle ID to uuid.UUID for repositories.
func (e Event) CycleUUID() uuid.UUID {
	return uuid.UUID(e.CycleID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
