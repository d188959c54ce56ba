// internal/indexer/indexer_test.go
package indexer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admission-pipeline/internal/common/logger"
	"admission-pipeline/internal/models"
)

type mockTransport struct {
	status   int
	body     string
	requests []*http.Request
	captured []byte
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.requests = append(m.requests, req)
	if req.Body != nil {
		m.captured, _ = io.ReadAll(req.Body)
	}
	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(strings.NewReader(m.body)),
		Header:     http.Header{"X-Elastic-Product": []string{"Elasticsearch"}, "Content-Type": []string{"application/json"}},
	}, nil
}

func newTestIndexer(t *testing.T, transport *mockTransport) *Indexer {
	t.Helper()
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{"http://elasticsearch.test:9200"},
		Transport: transport,
	})
	require.NoError(t, err)
	return New(client, "prediction-results", logger.NewNoOpLogger())
}

func TestIndex_UpsertsByStudentID(t *testing.T) {
	transport := &mockTransport{status: http.StatusCreated, body: `{"result":"created"}`}
	x := newTestIndexer(t, transport)

	result := &models.PredictionResult{
		StudentID: uuid.New(),
		Status:    models.StatusCompleted,
		L2Results: []models.L2Result{{AdmissionCode: "UNI-101", Score: 0.8}},
		UpdatedAt: time.Now().UTC(),
	}

	require.NoError(t, x.Index(context.Background(), result))
	require.Len(t, transport.requests, 1)
	assert.Contains(t, transport.requests[0].URL.Path, "/prediction-results/")
	assert.Contains(t, transport.requests[0].URL.Path, result.StudentID.String())

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(transport.captured, &doc))
	assert.Equal(t, "COMPLETED", doc["status"])
	assert.Equal(t, float64(1), doc["l2Codes"])
}

func TestIndex_ErrorResponseSurfaces(t *testing.T) {
	transport := &mockTransport{status: http.StatusServiceUnavailable, body: `{"error":"unavailable"}`}
	x := newTestIndexer(t, transport)

	err := x.Index(context.Background(), &models.PredictionResult{
		StudentID: uuid.New(),
		Status:    models.StatusPartial,
	})
	assert.Error(t, err)
}
