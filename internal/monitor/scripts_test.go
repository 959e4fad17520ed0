package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnqueueIgnoresEmptyPath(t *testing.T) {
	se := newScriptExecutor()
	se.enqueueNotification("", "+sdown", "msg")
	assert.Empty(t, se.pending())
}

func TestEnqueueNotificationBuildsArgv(t *testing.T) {
	se := newScriptExecutor()
	se.enqueueNotification("/bin/true", "+sdown", "mymaster 10.0.0.1 6379")

	pending := se.pending()
	if assert.Len(t, pending, 1) {
		assert.Equal(t, []string{"/bin/true", "+sdown", "mymaster 10.0.0.1 6379"}, pending[0].argv)
	}
}

func TestEnqueueClientReconfigBuildsArgv(t *testing.T) {
	se := newScriptExecutor()
	se.enqueueClientReconfig("/bin/true", "mymaster", "master", "start", "10.0.0.1", 6379, "10.0.0.2", 6380)

	pending := se.pending()
	if assert.Len(t, pending, 1) {
		assert.Equal(t, []string{
			"/bin/true", "mymaster", "master", "start",
			"10.0.0.1", "6379", "10.0.0.2", "6380",
		}, pending[0].argv)
	}
}

func TestEnqueueEvictsOldestNonRunningJobWhenQueueFull(t *testing.T) {
	se := newScriptExecutor()
	for i := 0; i < MaxQueue; i++ {
		se.enqueueNotification("/bin/true", "+sdown", "filler")
	}
	assert.Len(t, se.pending(), MaxQueue)

	se.enqueue([]string{"/bin/true", "newest"})

	pending := se.pending()
	assert.Len(t, pending, MaxQueue, "the queue must not grow past MaxQueue")
	assert.Equal(t, "newest", pending[len(pending)-1].argv[1], "the newest job must still be enqueued")
}

func TestTickDoesNotLaunchJobsBeforeTheirStartTime(t *testing.T) {
	se := newScriptExecutor()
	se.enqueue([]string{"/bin/true"})

	se.mu.Lock()
	se.queue[0].startTime = time.Now().Add(time.Hour)
	se.mu.Unlock()

	se.tick(time.Now())

	se.mu.Lock()
	running := se.queue[0].running
	se.mu.Unlock()
	assert.False(t, running, "a job scheduled in the future must not be launched yet")
}
