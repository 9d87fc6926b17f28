package client

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestBackoffNext(t *testing.T) {
	b := DefaultBackoff
	assert.Equal(t, 1500*time.Millisecond, b.Next(time.Second))
	assert.Equal(t, 2250*time.Millisecond, b.Next(1500*time.Millisecond))
	assert.Equal(t, 30*time.Second, b.Next(25*time.Second))
	assert.Equal(t, 30*time.Second, b.Next(30*time.Second))
	assert.Equal(t, time.Second, b.Next(0))
}

func TestBackoffWithDefaults(t *testing.T) {
	assert.Equal(t, DefaultBackoff, Backoff{}.withDefaults())

	b := Backoff{Floor: 2 * time.Second, Ceiling: time.Second, Factor: 2}.withDefaults()
	assert.Equal(t, 2*time.Second, b.Floor)
	assert.Equal(t, 30*time.Second, b.Ceiling)
	assert.Equal(t, 2.0, b.Factor)
}

func TestEndpointFromOrigin(t *testing.T) {
	tests := []struct {
		origin  string
		want    string
		wantErr bool
	}{
		{origin: "https://care.example.org", want: "wss://care.example.org/ws"},
		{origin: "http://localhost:8080", want: "ws://localhost:8080/ws"},
		{origin: "https://care.example.org/dashboard?x=1", want: "wss://care.example.org/ws"},
		{origin: "ws://10.0.0.5:9000", want: "ws://10.0.0.5:9000/ws"},
		{origin: "ftp://files.example.org", wantErr: true},
		{origin: "https://", wantErr: true},
		{origin: "::bad", wantErr: true},
	}

	for _, tt := range tests {
		got, err := EndpointFromOrigin(tt.origin)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrBadEndpoint, tt.origin)
			continue
		}
		assert.NoError(t, err, tt.origin)
		assert.Equal(t, tt.want, got)
	}
}

// For any number of consecutive failed attempts the scheduled delays are
// 1000, then min(prev*1.5, 30000).
func TestReconnectDelaySequenceProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("delays grow by 1.5 up to the ceiling", prop.ForAll(
		func(failures int) bool {
			clock := &fakeClock{}
			c := NewClient(testOrigin, &fakeDialer{}, &recordingUI{},
				WithLogConfig(SuppressedLogConfig()), WithAfterFunc(clock.AfterFunc))

			_ = c.Connect(context.Background())
			for i := 1; i < failures; i++ {
				clock.FireLast()
			}

			delays := clock.Delays()
			if len(delays) != failures || c.Status().Attempts != failures {
				return false
			}

			want := 1000 * time.Millisecond
			for i, d := range delays {
				if i > 0 {
					want = min(time.Duration(float64(want)*1.5), 30*time.Second)
				}
				if d != want {
					return false
				}
				if i > 0 && d < delays[i-1] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}
