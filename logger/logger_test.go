package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTestLevelRecords(t *testing.T) {
	New(TestLevel)
	t.Cleanup(OnExit)
	// discard the start-up diagnostics
	_ = Recorded.TakeAll()

	log := Sugar.WithServiceName("Unsubscribe-Repro")
	log.Infof("queue %s created", "q1")
	log.DebugR("subscription", "s1", 4)

	require.NotNil(t, Recorded)
	entries := Recorded.TakeAll()
	require.Len(t, entries, 2)

	assert.Equal(t, "queue q1 created", entries[0].Message)
	assert.Equal(t, "unsubscribe-repro", entries[0].ContextMap()[serviceNameKey])

	assert.Equal(t, "subscription", entries[1].Message)
	assert.Equal(t, "s1", entries[1].ContextMap()["arg0"])
	assert.EqualValues(t, 4, entries[1].ContextMap()["arg1"])
}

func TestFromContextWithoutSpan(t *testing.T) {
	New(NoopLevel)
	t.Cleanup(OnExit)

	log := Sugar.FromContext(context.Background())
	assert.Same(t, Sugar, log)
}
