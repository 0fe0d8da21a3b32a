package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/tombee/foreman/pkg/events"
)

func TestListener_RecordsLifecycle(t *testing.T) {
	listen := Listener()

	listen(events.Event{Type: events.TypePollCompleted, TaskType: "enc", Server: "primary"})
	listen(events.Event{Type: events.TypePollFailure, TaskType: "enc", Server: "backup"})

	listen(events.Event{Type: events.TypeExecutionStarted, TaskType: "enc"})
	assert.Equal(t, 1.0, testutil.ToFloat64(permitsInUse.WithLabelValues("enc")))

	listen(events.Event{Type: events.TypeExecutionCompleted, TaskType: "enc", Duration: 40 * time.Millisecond})
	assert.Equal(t, 0.0, testutil.ToFloat64(permitsInUse.WithLabelValues("enc")))

	listen(events.Event{Type: events.TypeExecutionStarted, TaskType: "enc"})
	listen(events.Event{Type: events.TypeExecutionFailure, TaskType: "enc", Duration: 5 * time.Millisecond})

	listen(events.Event{Type: events.TypeUpdateFailure, TaskType: "enc", Server: "primary"})
	listen(events.Event{Type: events.TypeCircuitOpened, TaskType: "enc", Server: "backup"})

	assert.Equal(t, 1.0, testutil.ToFloat64(pollsTotal.WithLabelValues("enc", "primary", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pollsTotal.WithLabelValues("enc", "backup", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tasksExecuted.WithLabelValues("enc", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tasksExecuted.WithLabelValues("enc", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(updateFailures.WithLabelValues("enc", "primary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(circuitOpens.WithLabelValues("backup")))
}
