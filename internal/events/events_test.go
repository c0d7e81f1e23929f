package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fitetl/internal/load"
)

type stubWriter struct {
	err    error
	msgs   []kafka.Message
	closed bool
}

func (s *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msgs...)
	return nil
}

func (s *stubWriter) Close() error {
	s.closed = true
	return nil
}

func TestNew_NoBrokersIsNop(t *testing.T) {
	p := New(Config{}, nil)
	assert.IsType(t, Nop{}, p)
	assert.NoError(t, p.Publish(context.Background(), RunCompleted{}))
	assert.NoError(t, p.Close())
}

func TestNew_Kafka(t *testing.T) {
	p := New(Config{Brokers: []string{"localhost:9092"}}, nil)
	kp, ok := p.(*KafkaPublisher)
	require.True(t, ok)
	assert.Equal(t, DefaultTopic, kp.topic)
	w, ok := kp.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, DefaultTopic, w.Topic)
	assert.NoError(t, p.Close())
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &stubWriter{}
	p := newKafkaPublisher(w, "runs", nil)
	done := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	ev := RunCompleted{
		RunID:       "r1",
		Environment: "test",
		Status:      "completed",
		RowsIn:      6,
		RowsOut:     5,
		CompletedAt: done,
		Outputs:     []load.Manifest{{Path: "out/fitness.parquet", Format: load.FormatParquet, Compression: load.CompressionSnappy, Rows: 5}},
	}
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "test", string(msg.Key))
	assert.Equal(t, done, msg.Time)
	assert.Equal(t, "run_id", msg.Headers[1].Key)

	var got RunCompleted
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, ev, got)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_Error(t *testing.T) {
	boom := errors.New("leader not available")
	p := newKafkaPublisher(&stubWriter{err: boom}, "runs", nil)

	err := p.Publish(context.Background(), RunCompleted{RunID: "r1"})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "runs")
}
