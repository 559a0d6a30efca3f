package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecimalToFixed(t *testing.T) {
	assert.Equal(t, 1.23, DecimalToFixed(1.2345, 2))
	assert.Equal(t, -1.3, DecimalToFixed(-1.25, 1))
	assert.Equal(t, 3.0, DecimalToFixed(2.5, 0))
}

func TestRate(t *testing.T) {
	assert.Equal(t, 0.0, Rate(10, 0))
	assert.Equal(t, 5.0, Rate(10, 2*time.Second))
	assert.Equal(t, 3.3, Rate(10, 3*time.Second))
}

func TestInterruptContextCancel(t *testing.T) {
	ctx, cancel := InterruptContext(context.Background(), nil)
	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
}
