package client

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// FlightClient pushes encoded batches to a downstream store via Apache
// Flight.
type FlightClient struct {
	client flight.Client
	conn   *grpc.ClientConn
}

// NewFlightClient creates a Flight client connected to the given address.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	return &FlightClient{
		client: flight.NewClientFromConn(conn, nil),
		conn:   conn,
	}, nil
}

// DoPut sends a RecordBatch to the named dataset on the downstream
// server.
func (c *FlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	desc := &flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{datasetName},
	}

	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return err
	}

	writer := flight.NewRecordWriter(stream)
	writer.SetFlightDescriptor(desc)

	if err := writer.Write(record); err != nil {
		return err
	}

	return writer.Close()
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}
