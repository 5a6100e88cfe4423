package capture

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is a step of the capture state machine.
type State string

const (
	StateReceived       State = "RECEIVED"
	StateCacheHit       State = "CACHE_HIT"
	StateCacheMiss      State = "CACHE_MISS"
	StateAdmitted       State = "ADMITTED"
	StateRendering      State = "RENDERING"
	StatePostProcessing State = "POST_PROCESSING"
	StateCached         State = "CACHED"
	StateRejected       State = "REJECTED"
	StateRenderFailed   State = "RENDER_FAILED"
	StateProcessFailed  State = "PROCESS_FAILED"
	StateDone           State = "DONE"
)

const (
	jobScreenshot = "screenshot"
	jobThumbnail  = "thumbnail"
)

// job tracks one capture through the state machine.
type job struct {
	id    string
	kind  string
	url   string
	key   string
	state State
	trail []State
	log   *zap.Logger
}

func newJob(log *zap.Logger, kind, url string) *job {
	id := uuid.NewString()
	j := &job{
		id:   id,
		kind: kind,
		url:  url,
		log:  log.With(zap.String("job_id", id), zap.String("kind", kind), zap.String("url", url)),
	}
	j.enter(StateReceived)
	return j
}

func (j *job) withKey(key string) {
	j.key = key
	j.log = j.log.With(zap.String("key", key))
}

func (j *job) enter(s State) {
	j.state = s
	j.trail = append(j.trail, s)
	j.log.Debug("capture state", zap.String("state", string(s)))
}

// fail moves the job into the error state matching err.
func (j *job) fail(err error) {
	switch KindOf(err) {
	case KindRejected:
		j.enter(StateRejected)
	case KindEncoding, KindStorage:
		j.enter(StateProcessFailed)
	case KindValidation:
	default:
		j.enter(StateRenderFailed)
	}
	j.enter(StateDone)
}
