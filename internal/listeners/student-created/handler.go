// internal/listeners/student-created/handler.go
package studentcreated

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"admission-pipeline/internal/common/errors"
	"admission-pipeline/internal/common/logger"
	"admission-pipeline/internal/common/metrics"
	"admission-pipeline/internal/models"
)

// Orchestrator is the slice of the orchestration service this listener calls.
type Orchestrator interface {
	HandleStudentCreated(ctx context.Context, evt models.StudentCreatedEvent) error
}

// Handler consumes student.created events. The contract with the bus is
// validate -> process -> never propagate: any failure is logged and the
// event is dropped, so the bus never redelivers and loops.
type Handler struct {
	config       *Config
	orchestrator Orchestrator
	logger       logger.Logger
	schema       *gojsonschema.Schema
}

func NewHandler(config *Config, orchestrator Orchestrator, log logger.Logger) (*Handler, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(eventSchema))
	if err != nil {
		return nil, err
	}
	return &Handler{
		config:       config,
		orchestrator: orchestrator,
		logger:       log.WithFields(map[string]interface{}{"topic": Topic}),
		schema:       schema,
	}, nil
}

// Handle implements eventbus.Handler.
func (h *Handler) Handle(ctx context.Context, payload []byte) {
	metrics.EventsConsumed.WithLabelValues(Topic).Inc()

	evt, err := h.parse(payload)
	if err != nil {
		metrics.EventsDropped.WithLabelValues(Topic, "schema").Inc()
		h.logger.Error("Dropping malformed event", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	h.logger.Info("Processing student created event", map[string]interface{}{
		"studentId": evt.StudentID,
	})

	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	if err := h.orchestrator.HandleStudentCreated(ctx, evt); err != nil {
		metrics.EventsDropped.WithLabelValues(Topic, "orchestration").Inc()
		h.logger.Error("Orchestration failed, event dropped", map[string]interface{}{
			"studentId": evt.StudentID,
			"error":     err.Error(),
		})
	}
}

func (h *Handler) parse(payload []byte) (models.StudentCreatedEvent, error) {
	var evt models.StudentCreatedEvent

	result, err := h.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return evt, errors.NewEventSchemaInvalidError(Topic, err.Error())
	}
	if !result.Valid() {
		descs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			descs[i] = desc.String()
		}
		return evt, errors.NewEventSchemaInvalidError(Topic, strings.Join(descs, "; "))
	}

	if err := json.Unmarshal(payload, &evt); err != nil {
		return evt, errors.NewEventSchemaInvalidError(Topic, err.Error())
	}
	return evt, nil
}
