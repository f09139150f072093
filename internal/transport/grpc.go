// Package transport carries recognition sessions over the service's
// bidirectional gRPC stream.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/yegors/sttstream/internal/config"
	"github.com/yegors/sttstream/internal/session"
	"github.com/yegors/sttstream/internal/stt"
	"github.com/yegors/sttstream/pkg/logger"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// StreamingRecognizeMethod is the full method name of the streaming RPC
const StreamingRecognizeMethod = "/tinkoff.cloud.stt.v1.SpeechToText/StreamingRecognize"

var streamDesc = grpc.StreamDesc{
	StreamName:    "StreamingRecognize",
	ClientStreams: true,
	ServerStreams: true,
}

// Dialer opens authenticated recognition streams to one endpoint
type Dialer struct {
	address  string
	insecure bool
	extra    []grpc.DialOption
	logger   *logger.Logger
}

// NewDialer creates a dialer for the configured endpoint. Extra options are
// appended to the defaults.
func NewDialer(cfg config.EndpointConfig, log *logger.Logger, opts ...grpc.DialOption) *Dialer {
	return &Dialer{
		address:  cfg.Address,
		insecure: cfg.Insecure,
		extra:    opts,
		logger:   log.Named("transport"),
	}
}

// Open implements session.Dialer. The token is attached as a bearer
// credential to the call metadata.
func (d *Dialer) Open(ctx context.Context, token string) (session.Conn, error) {
	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if d.insecure {
		creds = insecure.NewCredentials()
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(stt.Codec{})),
	}, d.extra...)

	cc, err := grpc.NewClient(d.address, opts...)
	if err != nil {
		return nil, &session.ConnectError{Endpoint: d.address, Err: err}
	}

	callCtx, cancel := context.WithCancel(ctx)
	callCtx = metadata.AppendToOutgoingContext(callCtx, "authorization", "Bearer "+token)

	stream, err := cc.NewStream(callCtx, &streamDesc, StreamingRecognizeMethod)
	if err != nil {
		cancel()
		return nil, &session.ConnectError{
			Endpoint: d.address,
			Err:      multierr.Append(err, cc.Close()),
		}
	}

	d.logger.Debug("Recognition stream opened",
		logger.String("address", d.address),
		logger.Bool("insecure", d.insecure))

	return &Conn{cc: cc, stream: stream, cancel: cancel}, nil
}

// Conn is one open StreamingRecognize call
type Conn struct {
	cc     *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// Send writes one request unit. io.EOF means the server ended the call;
// the status is reported by Recv.
func (c *Conn) Send(unit stt.RequestUnit) error {
	return c.stream.SendMsg(unit)
}

// CloseSend half-closes the outbound side
func (c *Conn) CloseSend() error {
	return c.stream.CloseSend()
}

// Recv reads the next recognition event, or io.EOF once the server closed
// the call cleanly.
func (c *Conn) Recv() (*stt.RecognitionEvent, error) {
	ev := new(stt.RecognitionEvent)
	if err := c.stream.RecvMsg(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Close cancels the call and releases the client connection
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		if err := c.cc.Close(); err != nil {
			c.closeErr = multierr.Append(c.closeErr, fmt.Errorf("close client connection: %w", err))
		}
	})
	return c.closeErr
}
