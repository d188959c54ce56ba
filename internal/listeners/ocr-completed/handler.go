// internal/listeners/ocr-completed/handler.go
package ocrcompleted

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

type Orchestrator interface {
	HandleOcrCompleted(ctx context.Context, evt models.OcrCompletedEvent) error
}

// Handler consumes ocr.completed events and triggers the document-derived
// prediction pass. Same bus contract as the student-created listener:
// validate, process, never propagate.
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

	h.logger.Info("Processing OCR completed event", map[string]interface{}{
		"studentId":  evt.StudentID,
		"ocrResults": len(evt.OcrResultIDs),
	})

	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	if err := h.orchestrator.HandleOcrCompleted(ctx, evt); err != nil {
		metrics.EventsDropped.WithLabelValues(Topic, "orchestration").Inc()
		h.logger.Error("Orchestration failed, event dropped", map[string]interface{}{
			"studentId": evt.StudentID,
			"error":     err.Error(),
		})
	}
}

func (h *Handler) parse(payload []byte) (models.OcrCompletedEvent, error) {
	var evt models.OcrCompletedEvent

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
