package matcher

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/facegate/internal/recognition"
	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

// Config holds configuration for the matcher client
type Config struct {
	// Address of the matcher service, e.g. "localhost:50051"
	Address string

	// MaxMessageSize bounds frames sent to the matcher
	MaxMessageSize int
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("matcher address cannot be empty")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 16 * 1024 * 1024 // 16MB, a full-resolution frame is ~5.5MB hex
	}
}

// Client implements recognition.Matcher against a remote matcher service.
type Client struct {
	conn *grpc.ClientConn
}

var _ recognition.Matcher = (*Client)(nil)

// NewClient creates a client for config.Address. Extra options are applied
// after the defaults, so tests can swap the dialer.
func NewClient(config Config, opts ...grpc.DialOption) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.SetDefaults()

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
		),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(config.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create matcher client: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Enroll registers a reference photo under name.
func (c *Client) Enroll(ctx context.Context, name string, grid framecodec.Grid) error {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldName:  structpb.NewStringValue(name),
		fieldFrame: structpb.NewStringValue(framecodec.Encode(grid)),
	}}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, enrollMethod, req, resp); err != nil {
		return fmt.Errorf("enroll %q: %w", name, err)
	}
	return nil
}

// Match asks the service which enrolled people appear in grid.
func (c *Client) Match(ctx context.Context, grid framecodec.Grid) (recognition.MatchOutcome, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldFrame: structpb.NewStringValue(framecodec.Encode(grid)),
	}}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, matchMethod, req, resp); err != nil {
		return recognition.MatchOutcome{}, fmt.Errorf("match: %w", err)
	}
	return outcomeFromStruct(resp)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
