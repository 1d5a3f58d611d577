package docs_test

import (
	"encoding/json"
	"testing"

	v1 "labspawn/api/v1"
	"labspawn/docs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwaggerDocumentsEveryReportedStatus(t *testing.T) {
	var doc struct {
		Paths       map[string]json.RawMessage `json:"paths"`
		Definitions map[string]struct {
			Properties map[string]struct {
				Enum []string `json:"enum"`
			} `json:"properties"`
		} `json:"definitions"`
	}
	require.NoError(t, json.Unmarshal([]byte(docs.SwaggerInfo.ReadDoc()), &doc))

	enum := doc.Definitions["v1.TaskStatusData"].Properties["status"].Enum
	for _, status := range []v1.ReportedStatus{
		v1.StatusQueued, v1.StatusProvisioning, v1.StatusActive, v1.StatusError,
		v1.StatusTerminating, v1.StatusTerminated, v1.StatusUnknown,
	} {
		assert.Contains(t, enum, string(status))
	}
	assert.Len(t, enum, 7)
	assert.Contains(t, doc.Paths, "/api/v1/tasks/status")
}
