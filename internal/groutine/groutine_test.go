package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NamesGoroutine(t *testing.T) {
	names := make(chan string, 1)

	Go(nil, "worker-42", func(ctx context.Context) { //nolint:staticcheck // nil parent is supported
		names <- GetName(ctx)
	})

	select {
	case name := <-names:
		assert.Equal(t, "worker-42", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGoSafe_RecoversPanic(t *testing.T) {
	// GOAL: Verify a panicking goroutine is recovered and reported
	//
	// TEST SCENARIO: GoSafe with a panicking fn → onPanic receives an error naming the goroutine

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	errs := make(chan error, 1)

	GoSafe(context.Background(), "notify-Zones", logger, func(err error) { errs <- err }, func(ctx context.Context) {
		panic("boom")
	})

	select {
	case err := <-errs:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "notify-Zones")
		assert.Contains(t, err.Error(), "boom")
	case <-time.After(time.Second):
		t.Fatal("panic was not reported")
	}
}

func TestGetName_Empty(t *testing.T) {
	assert.Empty(t, GetName(context.Background()))
	assert.Empty(t, GetName(nil)) //nolint:staticcheck // nil context is supported
}
