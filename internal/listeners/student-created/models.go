// internal/listeners/student-created/models.go
package studentcreated

// Topic is the bus channel this listener consumes.
const Topic = "student.created"

// eventSchema validates the raw payload before it is bound to the typed
// event. Malformed payloads are dropped, never retried.
const eventSchema = `{
	"type": "object",
	"required": ["studentId"],
	"properties": {
		"studentId": {"type": "string", "format": "uuid"},
		"userId": {"type": ["string", "null"], "format": "uuid"}
	},
	"additionalProperties": true
}`
