package eventbus

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/logging"
)

type assigned struct {
	requestID string
}

type completed struct {
	requestID string
}

func TestPublisher_NoMatchingSubscriberLogs(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.WarnLevel)

	publisher := NewEventPublisher(log)
	publisher.Subscribe(func(e *assigned) {
		t.Error("should not be called")
	})
	publisher.Publish(&completed{requestID: "r-1"})

	require.Contains(t, buf.String(), "eventbus.Publish: no matching subscribers")
}

func TestPublisher_Subscribe(t *testing.T) {
	publisher := NewEventPublisher(logging.ConsoleLogger(logrus.WarnLevel))
	var got string
	publisher.Subscribe(func(e *assigned) {
		got = e.requestID
	})
	publisher.Publish(&assigned{requestID: "r-1"})
	require.Equal(t, "r-1", got)
}

func TestPublisher_Unsubscribe(t *testing.T) {
	publisher := NewEventPublisher(nil)
	calls := 0
	handler := func(e *assigned) { calls++ }
	publisher.Subscribe(handler)
	require.Equal(t, 1, publisher.SubscribersCount())

	publisher.Unsubscribe(handler)
	require.Equal(t, 0, publisher.SubscribersCount())
	publisher.Publish(&assigned{})
	require.Zero(t, calls)
}

func TestPublisher_Clear(t *testing.T) {
	publisher := NewEventPublisher(nil)
	publisher.Subscribe(func(e *assigned) {})
	publisher.Subscribe(func(e *completed) {})
	publisher.Clear()
	require.Zero(t, publisher.SubscribersCount())
}

func TestPublishE(t *testing.T) {
	boom := errors.New("boom")

	cases := []struct {
		name    string
		handler any
		check   func(t *testing.T, err error)
	}{
		{
			name:    "no subscribers",
			handler: func(e *completed) error { return nil },
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrNoSubscribers)
			},
		},
		{
			name:    "handler error",
			handler: func(e *assigned) error { return boom },
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, boom)
			},
		},
		{
			name:    "handler panic",
			handler: func(e *assigned) error { panic("kaboom") },
			check: func(t *testing.T, err error) {
				require.ErrorContains(t, err, "panicked: kaboom")
			},
		},
		{
			name:    "bad return type",
			handler: func(e *assigned) string { return "nope" },
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrInvalidHandlerReturn)
			},
		},
		{
			name:    "success without return",
			handler: func(e *assigned) {},
			check: func(t *testing.T, err error) {
				require.NoError(t, err)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			publisher := NewEventPublisher(nil)
			publisher.Subscribe(tc.handler)
			tc.check(t, publisher.PublishE(&assigned{requestID: "r-1"}))
		})
	}
}

func TestMatchSignature_Interfaces(t *testing.T) {
	handler := func(err error, n int) {}
	require.True(t, MatchSignature(handler, []any{errors.New("x"), 1}))
	require.True(t, MatchSignature(handler, []any{nil, 1}))
	require.False(t, MatchSignature(handler, []any{"x", 1}))
	require.False(t, MatchSignature(handler, []any{errors.New("x")}))
}
