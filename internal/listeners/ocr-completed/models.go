// internal/listeners/ocr-completed/models.go
package ocrcompleted

// Topic is the bus channel this listener consumes.
const Topic = "ocr.completed"

const eventSchema = `{
	"type": "object",
	"required": ["studentId", "ocrResultIds"],
	"properties": {
		"studentId": {"type": "string", "format": "uuid"},
		"ocrResultIds": {
			"type": "array",
			"items": {"type": "string", "format": "uuid"}
		},
		"userId": {"type": ["string", "null"], "format": "uuid"}
	},
	"additionalProperties": true
}`
