// Package dashboard provides event handling and message formatting for the dashboard.
package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/cobaltdata/schemaport/internal/apply"
	"github.com/cobaltdata/schemaport/internal/generate"
	"github.com/cobaltdata/schemaport/internal/provider"
)

// Handler formats run events as dashboard messages. It bridges between
// the generation pipeline, the replay engine, and the WebSocket server.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates an event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

// OnRunStarted announces the scope of a generation run
func (h *Handler) OnRunStarted(engine string, objects, units, items int, delta bool) {
	h.broadcast(MessageTypeRunStarted, RunStartedData{
		Engine:  engine,
		Objects: objects,
		Units:   units,
		Items:   items,
		Delta:   delta,
	})
}

// OnProgress relays dispatch completion counts. The signature matches the
// dispatcher's progress callback so it can be wired directly.
func (h *Handler) OnProgress(done, total int64) {
	data := ProgressData{Done: done, Total: total}
	if total > 0 {
		data.Percent = float64(done) / float64(total) * 100
	}
	h.broadcast(MessageTypeProgress, data)
}

// OnRunComplete announces a finished generation run
func (h *Handler) OnRunComplete(summary *generate.Summary, runErr error) {
	data := RunCompleteData{}
	if summary != nil {
		data = RunCompleteData{
			Written:  summary.Written,
			Copied:   summary.Copied,
			Deleted:  summary.Deleted,
			Failed:   summary.Failed,
			Duration: summary.Duration,
			Clean:    summary.Clean(),
		}
	}
	if runErr != nil {
		data.Error = runErr.Error()
		data.Clean = false
	}
	h.broadcast(MessageTypeRunComplete, data)
}

// OnApplyBucket announces one replayed bucket's outcome
func (h *Handler) OnApplyBucket(br apply.BucketReport) {
	data := ApplyBucketData{
		Bucket:    br.Bucket.Ordinal,
		Directory: br.Bucket.ArtifactPrefix(),
		Passes:    br.Passes,
	}
	for _, res := range br.Results {
		switch res.State {
		case apply.StateApplied:
			data.Applied++
		case apply.StateFailed:
			data.Failed++
		}
	}
	h.broadcast(MessageTypeApplyBucket, data)
}

// OnViolations announces constraint validation findings
func (h *Handler) OnViolations(violations []provider.Violation) {
	data := ViolationsData{Count: len(violations)}
	for _, v := range violations {
		data.Violations = append(data.Violations, ViolationInfo{
			Constraint: v.Constraint,
			Table:      v.Table,
			Parent:     v.Parent,
			Rows:       v.Rows,
		})
	}
	h.broadcast(MessageTypeViolations, data)
}

func (h *Handler) broadcast(t MessageType, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", t, err)
		return
	}
	h.server.Broadcast(Message{
		Type:      t,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
