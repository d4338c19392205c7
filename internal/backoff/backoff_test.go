package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstant(t *testing.T) {
	c := Constant{Interval: 3 * time.Second}
	for n := 1; n < 6; n++ {
		assert.Equal(t, 3*time.Second, c.Delay(n))
	}
}

func TestExponential(t *testing.T) {
	e := Exponential{Initial: time.Second, Max: 10 * time.Second}
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{500, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Delay(tt.retry), "retry %d", tt.retry)
	}
}

func TestExponential_NoMaxDoesNotOverflow(t *testing.T) {
	e := Exponential{Initial: time.Second}
	assert.Positive(t, e.Delay(200))
}

func TestJittered_WithinBounds(t *testing.T) {
	j := Jittered{Initial: 100 * time.Millisecond, Max: time.Second}
	for i := 0; i < 200; i++ {
		d := j.Delay(3)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

func TestNew(t *testing.T) {
	s, err := New("constant", time.Second, 0)
	require.NoError(t, err)
	assert.IsType(t, Constant{}, s)

	s, err = New("", time.Second, time.Minute)
	require.NoError(t, err)
	assert.IsType(t, Jittered{}, s)

	_, err = New("fibonacci", time.Second, 0)
	assert.Error(t, err)
}

func TestSleep_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, Sleep(context.Background(), 0))
}
