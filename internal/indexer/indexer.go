// internal/indexer/indexer.go
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"admission-pipeline/internal/common/errors"
	"admission-pipeline/internal/common/logger"
	"admission-pipeline/internal/models"
)

// Indexer mirrors finished prediction aggregates into Elasticsearch for the
// analytics dashboards. Indexing is best-effort and happens after the
// aggregate committed; Postgres stays the source of truth.
type Indexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func New(client *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	return &Indexer{client: client, index: index, logger: log}
}

// document is the flattened analytics view of one aggregate.
type document struct {
	StudentID      string    `json:"studentId"`
	Status         string    `json:"status"`
	L1Categories   int       `json:"l1Categories"`
	L2Codes        int       `json:"l2Codes"`
	L3Scenarios    int       `json:"l3Scenarios"`
	AdmissionCount int       `json:"admissionCount"`
	UpdatedAt      time.Time `json:"updatedAt"`
	IndexedAt      time.Time `json:"indexedAt"`
}

// Index upserts the aggregate document keyed by student id, so re-indexing
// after every orchestration run converges to the latest state.
func (x *Indexer) Index(ctx context.Context, result *models.PredictionResult) error {
	doc := document{
		StudentID:      result.StudentID.String(),
		Status:         string(result.Status),
		L1Categories:   len(result.L1Results),
		L2Codes:        len(result.L2Results),
		L3Scenarios:    len(result.L3Results),
		AdmissionCount: len(result.AdmissionIDs()),
		UpdatedAt:      result.UpdatedAt,
		IndexedAt:      time.Now().UTC(),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return errors.NewIndexingFailedError(err)
	}

	res, err := x.client.Index(
		x.index,
		bytes.NewReader(body),
		x.client.Index.WithDocumentID(doc.StudentID),
		x.client.Index.WithContext(ctx),
	)
	if err != nil {
		return errors.NewIndexingFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.NewIndexingFailedError(fmt.Errorf("index response: %s", res.Status()))
	}

	x.logger.Debug("Indexed prediction aggregate", map[string]interface{}{
		"studentId": doc.StudentID,
		"status":    doc.Status,
		"index":     x.index,
	})
	return nil
}
