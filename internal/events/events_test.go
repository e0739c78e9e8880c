package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	skafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWriter records messages written
type fakeWriter struct {
	msgs   []skafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...skafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	fw := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(fw)

	ev := New(InvoicePaid, 42, map[string]string{"invoice_number": "INV-2025-01-0001"})
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, fw.msgs, 1)

	msg := fw.msgs[0]
	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, "invoice.paid", string(msg.Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "invoice.paid", decoded["type"])
	assert.Equal(t, ev.ID, decoded["id"])
	assert.Equal(t, float64(42), decoded["rental_id"])

	require.NoError(t, p.Close())
	assert.True(t, fw.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaPublisherWithWriter(fw)
	assert.Error(t, p.Publish(context.Background(), New(RentalCreated, 1, nil)))
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	_ = r.Publish(context.Background(), New(RentalCreated, 1, nil))
	_ = r.Publish(context.Background(), New(RentalActivated, 1, nil))
	assert.Equal(t, []Type{RentalCreated, RentalActivated}, r.Types())
	assert.Len(t, r.Events(), 2)
	assert.NotEqual(t, r.Events()[0].ID, r.Events()[1].ID)
}
