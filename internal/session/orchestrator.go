package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/yegors/sttstream/internal/audio"
	"github.com/yegors/sttstream/internal/auth"
	"github.com/yegors/sttstream/internal/stt"
	"github.com/yegors/sttstream/pkg/logger"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/status"
)

// State is a session lifecycle state
type State int

const (
	Idle State = iota
	TokenIssued
	StreamOpen
	Streaming
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case TokenIssued:
		return "token_issued"
	case StreamOpen:
		return "stream_open"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reason explains why a session reached Closed
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonSourceExhausted Reason = "source_exhausted"
	ReasonNoInputTimeout  Reason = "no_input_timeout"
	ReasonRemoteClosed    Reason = "remote_closed"
	ReasonCancelled       Reason = "cancelled"
)

// Conn is an open bidirectional recognition stream
type Conn interface {
	Send(unit stt.RequestUnit) error
	CloseSend() error
	Recv() (*stt.RecognitionEvent, error)
	Close() error
}

// Dialer opens a recognition stream authenticated with token. The stream
// lives until ctx is cancelled or the Conn is closed.
type Dialer interface {
	Open(ctx context.Context, token string) (Conn, error)
}

// TokenIssuer issues the per-session bearer token
type TokenIssuer interface {
	Issue() (*auth.Token, error)
}

// Recorder observes session progress. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Transition(from, to State)
	UnitSent(unit stt.RequestUnit)
	EventDecided(ev *stt.RecognitionEvent, d Decision)
	Finished(outcome *Outcome)
}

// Recorders fans every observation out to each recorder in order
func Recorders(recorders ...Recorder) Recorder {
	return multiRecorder(recorders)
}

type multiRecorder []Recorder

func (m multiRecorder) Transition(from, to State) {
	for _, r := range m {
		r.Transition(from, to)
	}
}

func (m multiRecorder) UnitSent(unit stt.RequestUnit) {
	for _, r := range m {
		r.UnitSent(unit)
	}
}

func (m multiRecorder) EventDecided(ev *stt.RecognitionEvent, d Decision) {
	for _, r := range m {
		r.EventDecided(ev, d)
	}
}

func (m multiRecorder) Finished(outcome *Outcome) {
	for _, r := range m {
		r.Finished(outcome)
	}
}

type nopRecorder struct{}

func (nopRecorder) Transition(State, State)                      {}
func (nopRecorder) UnitSent(stt.RequestUnit)                     {}
func (nopRecorder) EventDecided(*stt.RecognitionEvent, Decision) {}
func (nopRecorder) Finished(*Outcome)                            {}

// Outcome summarizes a finished session
type Outcome struct {
	SessionID      string
	State          State
	Reason         Reason
	Err            error
	Transcript     []string
	UnitsSent      int
	EventsReceived int
	Duration       time.Duration
}

// Options configures an Orchestrator
type Options struct {
	Config   stt.SessionConfig
	Pacing   Pacing
	Policy   NoInputPolicy
	Recorder Recorder
}

// Orchestrator runs recognition sessions one at a time
type Orchestrator struct {
	issuer   TokenIssuer
	dialer   Dialer
	config   stt.SessionConfig
	pacing   Pacing
	consumer *Consumer
	recorder Recorder
	logger   *logger.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(issuer TokenIssuer, dialer Dialer, opts Options, log *logger.Logger) *Orchestrator {
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Orchestrator{
		issuer:   issuer,
		dialer:   dialer,
		config:   opts.Config,
		pacing:   opts.Pacing,
		consumer: NewConsumer(opts.Policy),
		recorder: recorder,
		logger:   log.Named("session"),
	}
}

// run is the per-session state owned by Run
type run struct {
	outcome  *Outcome
	recorder Recorder
	logger   *logger.Logger
	started  time.Time
}

func (r *run) transition(to State) {
	from := r.outcome.State
	r.outcome.State = to
	r.recorder.Transition(from, to)
	r.logger.Debug("Session state changed",
		logger.String("from", from.String()),
		logger.String("to", to.String()))
}

func (r *run) fail(err error) (*Outcome, error) {
	r.outcome.Err = err
	r.outcome.Duration = time.Since(r.started)
	r.transition(Failed)
	r.recorder.Finished(r.outcome)
	r.logger.Error("Session failed", logger.Error(err))
	return r.outcome, err
}

func (r *run) close(reason Reason) (*Outcome, error) {
	r.outcome.Reason = reason
	r.outcome.Duration = time.Since(r.started)
	r.transition(Closed)
	r.recorder.Finished(r.outcome)
	r.logger.Info("Session closed",
		logger.String("reason", string(reason)),
		logger.Int("units_sent", r.outcome.UnitsSent),
		logger.Int("events_received", r.outcome.EventsReceived),
		logger.Duration("duration", r.outcome.Duration))
	return r.outcome, nil
}

// sendResult and recvResult are owned by their flow until the group is done
type sendResult struct {
	units     int
	exhausted bool
}

type recvResult struct {
	events     int
	transcript []string
	reason     Reason
}

// Run executes one session over src. The returned Outcome is never nil.
// A session that ends in Failed also returns the error: *auth.SigningError,
// *ConnectError, *SourceReadError or *TransportError. Cancelling ctx closes
// the session with ReasonCancelled.
func (o *Orchestrator) Run(ctx context.Context, src audio.Source) (*Outcome, error) {
	id := uuid.NewString()
	r := &run{
		outcome:  &Outcome{SessionID: id, State: Idle},
		recorder: o.recorder,
		logger:   o.logger.With(logger.String("session_id", id)),
		started:  time.Now(),
	}

	token, err := o.issuer.Issue()
	if err != nil {
		var signErr *auth.SigningError
		if !errors.As(err, &signErr) {
			err = &auth.SigningError{Err: err}
		}
		return r.fail(err)
	}
	r.transition(TokenIssued)

	rpcCtx, rpcCancel := context.WithCancel(ctx)
	defer rpcCancel()

	conn, err := o.dialer.Open(rpcCtx, token.Signed)
	if err != nil {
		var connectErr *ConnectError
		if !errors.As(err, &connectErr) {
			err = &ConnectError{Err: err}
		}
		return r.fail(err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			r.logger.Debug("Error closing recognition stream", logger.Error(err))
		}
	}()
	r.transition(StreamOpen)

	stream := Open(rpcCtx, o.config, src, o.pacing, r.logger)
	defer stream.Close()

	// stop is the single cancellation signal between the two flows
	stop := func() {
		stream.Close()
		rpcCancel()
	}

	r.transition(Streaming)
	r.logger.Info("Session streaming", logger.String("expires", token.Expiry.Format(time.RFC3339)))

	var (
		g    errgroup.Group
		sent sendResult
		recv recvResult
	)
	g.Go(func() error {
		var err error
		sent, err = o.send(rpcCtx, conn, stream, r.logger)
		if err != nil {
			var sourceErr *SourceReadError
			if !errors.As(err, &sourceErr) {
				stop()
			}
		}
		return err
	})
	g.Go(func() error {
		var err error
		recv, err = o.receive(ctx, rpcCtx, conn, r.logger)
		stop()
		return err
	})
	err = g.Wait()

	r.outcome.UnitsSent = sent.units
	r.outcome.EventsReceived = recv.events
	r.outcome.Transcript = recv.transcript

	if err != nil {
		var transportErr *TransportError
		if errors.As(err, &transportErr) && transportErr.Partial == nil {
			transportErr.Partial = recv.transcript
		}
		return r.fail(err)
	}

	switch {
	case ctx.Err() != nil:
		return r.close(ReasonCancelled)
	case recv.reason == ReasonRemoteClosed && sent.exhausted:
		return r.close(ReasonSourceExhausted)
	default:
		return r.close(recv.reason)
	}
}

// send drives the outbound flow until the stream ends or the RPC is
// cancelled
func (o *Orchestrator) send(rpcCtx context.Context, conn Conn, stream *Stream, log *logger.Logger) (sendResult, error) {
	var res sendResult
	for {
		unit, err := stream.Next()
		if err != nil {
			if err == io.EOF {
				res.exhausted = true
				log.Debug("Outbound stream complete, half-closing", logger.Int("units", res.units))
			}
			if closeErr := conn.CloseSend(); closeErr != nil && rpcCtx.Err() == nil {
				log.Debug("Error half-closing stream", logger.Error(closeErr))
			}

			switch {
			case err == io.EOF:
				return res, nil
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return res, nil
			default:
				return res, err
			}
		}

		if err := conn.Send(unit); err != nil {
			// io.EOF means the server ended the call; Recv reports why
			if err == io.EOF || rpcCtx.Err() != nil {
				log.Debug("Send side closed by peer", logger.Int("units", res.units))
				return res, nil
			}
			return res, &TransportError{Code: status.Code(err), Err: fmt.Errorf("send: %w", err)}
		}

		res.units++
		o.recorder.UnitSent(unit)
	}
}

// receive drives the inbound flow until the remote closes, the consumer
// stops the session or the RPC fails
func (o *Orchestrator) receive(ctx, rpcCtx context.Context, conn Conn, log *logger.Logger) (recvResult, error) {
	var res recvResult
	for {
		ev, err := conn.Recv()
		if err != nil {
			switch {
			case err == io.EOF:
				res.reason = ReasonRemoteClosed
				return res, nil
			case ctx.Err() != nil:
				res.reason = ReasonCancelled
				return res, nil
			case rpcCtx.Err() != nil:
				// aborted by the outbound flow, which reports the cause
				return res, nil
			}
			return res, &TransportError{
				Code:    status.Code(err),
				Partial: res.transcript,
				Err:     fmt.Errorf("receive: %w", err),
			}
		}

		res.events++
		res.transcript = append(res.transcript, Transcript(ev)...)

		decision := o.consumer.OnEvent(ev)
		o.recorder.EventDecided(ev, decision)

		if decision == StopNoInputTimeout {
			log.Info("No input detected, stopping session",
				logger.Duration("threshold", o.consumer.Policy().Threshold))
			res.reason = ReasonNoInputTimeout
			return res, nil
		}
	}
}
