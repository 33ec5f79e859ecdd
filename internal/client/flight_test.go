package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockFlightServer struct {
	flight.BaseFlightServer

	mu       sync.Mutex
	received []arrow.RecordBatch
}

func (s *mockFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer reader.Release()

	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		s.mu.Lock()
		s.received = append(s.received, rec)
		s.mu.Unlock()
	}
	return nil
}

func (s *mockFlightServer) recordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func TestFlightClient_DoPut(t *testing.T) {
	mockServer := &mockFlightServer{}
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(mockServer)

	err := server.Init("localhost:0")
	require.NoError(t, err)
	addr := server.Addr().String()

	go func() {
		_ = server.Serve()
	}()
	defer server.Shutdown()

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	// One sequence of two steps, hidden width 4.
	rbb := NewRecordBatchBuilder(memory.NewGoAllocator(), 4)
	rb, err := rbb.Build([][]float32{{1, 2, 3, 4, 5, 6, 7, 8}})
	require.NoError(t, err)
	defer rb.Release()

	err = client.DoPut(context.Background(), "test-dataset", rb)
	assert.NoError(t, err)

	// The server drains the stream after the client closes it; give it a
	// moment before checking receipt.
	deadline := time.Now().Add(2 * time.Second)
	for mockServer.recordCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, mockServer.recordCount())

	mockServer.mu.Lock()
	got := mockServer.received[0]
	mockServer.mu.Unlock()
	assert.Equal(t, int64(2), got.NumRows())
	assert.Equal(t, "hidden", got.Schema().Field(1).Name)
}
