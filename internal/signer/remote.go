package signer

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
)

// RemoteSigner forwards signing to the signer daemon over a Unix domain
// socket. The key never enters this process.
type RemoteSigner struct {
	conn *grpc.ClientConn
}

// Dial connects lazily to the daemon listening on socketPath.
func Dial(socketPath string) (*RemoteSigner, error) {
	conn, err := grpc.NewClient(
		"unix:"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("signer: dial %s: %w", socketPath, err)
	}
	return &RemoteSigner{conn: conn}, nil
}

// Sign implements Signer.
func (r *RemoteSigner) Sign(ctx context.Context, method string, payload map[string]any) (map[string]any, error) {
	plain, err := normalise(payload)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{
		"method":  method,
		"payload": plain,
	})
	if err != nil {
		return nil, fmt.Errorf("signer: encode request: %w", err)
	}

	out := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, signMethod, req, out); err != nil {
		return nil, fromStatus(err)
	}
	return out.AsMap(), nil
}

// Status asks the daemon for its session state.
func (r *RemoteSigner) Status(ctx context.Context) (SessionStatus, error) {
	out := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, statusMethod, &structpb.Struct{}, out); err != nil {
		return SessionStatus{}, fromStatus(err)
	}
	f := out.GetFields()
	return SessionStatus{
		Active:        f["active"].GetBoolValue(),
		TTLRemaining:  time.Duration(f["ttlSeconds"].GetNumberValue()) * time.Second,
		MaxOperations: int64(f["maxOperations"].GetNumberValue()),
		Used:          int64(f["used"].GetNumberValue()),
		Address:       f["address"].GetStringValue(),
	}, nil
}

// Close releases the connection.
func (r *RemoteSigner) Close() error {
	return r.conn.Close()
}

// fromStatus maps daemon status codes back onto the error taxonomy.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("signer: %w", err)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", dexerr.ErrValidation, st.Message())
	case codes.FailedPrecondition, codes.ResourceExhausted, codes.Unavailable:
		return fmt.Errorf("%w: %s", dexerr.ErrSessionUnavailable, st.Message())
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return fmt.Errorf("signer: %s: %s", st.Code(), st.Message())
	}
}
