package host

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hie/internal/apperror"
	"hie/internal/config"
	"hie/internal/message"
)

func testItem(name string, overrides ...config.ItemSetting) *config.ItemConfig {
	return &config.ItemConfig{
		Name:     name,
		ItemType: config.ItemTypeProcess,
		PoolSize: 1,
		Enabled:  true,
		Settings: overrides,
	}
}

func TestBase_StartRunThenStop(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	process := func(ctx context.Context, msg *message.Message) ([]*message.Message, error) {
		mu.Lock()
		seen = append(seen, msg.ID)
		mu.Unlock()
		return nil, nil
	}

	b := NewBase("Echo", testItem("Echo"), process)
	require.NoError(t, b.Start(context.Background()))
	assert.Equal(t, StateRunning, b.State())

	msg := message.New([]byte("hello"), "text/plain", "Echo")
	require.NoError(t, b.Submit(context.Background(), msg))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, b.Stop(context.Background()))
	assert.Equal(t, StateStopped, b.State())
}

func TestBase_PauseStopsDequeueUntilResume(t *testing.T) {
	processed := make(chan string, 4)
	process := func(ctx context.Context, msg *message.Message) ([]*message.Message, error) {
		processed <- msg.ID
		return nil, nil
	}

	b := NewBase("Gate", testItem("Gate"), process)
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Pause())
	assert.Equal(t, StatePaused, b.State())

	require.NoError(t, b.Submit(context.Background(), message.New([]byte("x"), "text/plain", "Gate")))

	select {
	case <-processed:
		t.Fatal("message processed while paused")
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, b.Resume())
	select {
	case <-processed:
	case <-time.After(time.Second):
		t.Fatal("message not processed after resume")
	}

	require.NoError(t, b.Stop(context.Background()))
}

func TestBase_SubmitNoWaitReturnsQueueFullWhenSaturated(t *testing.T) {
	block := make(chan struct{})
	process := func(ctx context.Context, msg *message.Message) ([]*message.Message, error) {
		<-block
		return nil, nil
	}

	item := testItem("Full", config.ItemSetting{Target: config.SettingTargetHost, Name: "QueueSize", Value: "1"})
	item.PoolSize = 1
	b := NewBase("Full", item, process)
	require.NoError(t, b.Start(context.Background()))
	defer func() {
		close(block)
		b.Stop(context.Background())
	}()

	// First message gets picked up by the sole worker and blocks it;
	// second fills the size-1 queue; third should see it full.
	require.NoError(t, b.SubmitNoWait(message.New([]byte("1"), "text/plain", "Full")))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, b.SubmitNoWait(message.New([]byte("2"), "text/plain", "Full")))

	err := b.SubmitNoWait(message.New([]byte("3"), "text/plain", "Full"))
	require.Error(t, err)
	assert.Equal(t, apperror.CodeBackpressure, apperror.Code(err))
}

func TestBase_ConsecutiveFailuresExceedingMaxErrorsEntersErrorState(t *testing.T) {
	process := func(ctx context.Context, msg *message.Message) ([]*message.Message, error) {
		return nil, apperror.New(apperror.CodeInternal, "boom")
	}

	item := testItem("Flaky",
		config.ItemSetting{Target: config.SettingTargetHost, Name: "MaxErrors", Value: "2"},
		config.ItemSetting{Target: config.SettingTargetHost, Name: "ErrorDelaySeconds", Value: "0"},
	)
	b := NewBase("Flaky", item, process)
	require.NoError(t, b.Start(context.Background()))

	for i := 0; i < 2; i++ {
		require.NoError(t, b.SubmitNoWait(message.New([]byte("x"), "text/plain", "Flaky")))
	}

	require.Eventually(t, func() bool {
		return b.State() == StateError
	}, time.Second, 10*time.Millisecond)
}

func TestBase_StartFailsFromRunningState(t *testing.T) {
	b := NewBase("Twice", testItem("Twice"), func(ctx context.Context, msg *message.Message) ([]*message.Message, error) {
		return nil, nil
	})
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop(context.Background())

	err := b.Start(context.Background())
	assert.Error(t, err)
}
