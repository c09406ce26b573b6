package signer

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Wire names of the signer service. Requests and responses are
// google.protobuf.Struct:
//
//	Sign   {method, payload}  -> signed payload
//	Status {}                 -> {active, ttlSeconds, maxOperations, used, address}
const (
	serviceName  = "dexlink.signer.v1.SignerService"
	signMethod   = "/" + serviceName + "/Sign"
	statusMethod = "/" + serviceName + "/Status"
)

// signerServer is the server-side contract registered under serviceDesc.
type signerServer interface {
	Sign(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*signerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Sign", Handler: unaryHandler(signMethod, signerServer.Sign)},
		{MethodName: "Status", Handler: unaryHandler(statusMethod, signerServer.Status)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dexlink/signer/v1/signer.proto",
}

func unaryHandler(fullMethod string, call func(signerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(signerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(signerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Handler serves the signer service from a SessionManager.
type Handler struct {
	session *SessionManager
}

// NewHandler creates a Handler wired to the given SessionManager.
func NewHandler(session *SessionManager) *Handler {
	return &Handler{session: session}
}

// Sign signs the request payload for the named method.
func (h *Handler) Sign(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	method := req.GetFields()["method"].GetStringValue()
	if method == "" {
		return nil, status.Errorf(codes.InvalidArgument, "method is required")
	}
	payload := req.GetFields()["payload"].GetStructValue()
	if payload == nil {
		return nil, status.Errorf(codes.InvalidArgument, "payload is required")
	}

	signed, err := h.session.Sign(ctx, method, payload.AsMap())
	if err != nil {
		switch {
		case errors.Is(err, ErrMethodNotAllowed):
			return nil, status.Errorf(codes.InvalidArgument, "method %q not allowed", method)
		case errors.Is(err, ErrNoActiveSession):
			return nil, status.Errorf(codes.FailedPrecondition, "no active session")
		case errors.Is(err, ErrSessionExpired):
			return nil, status.Errorf(codes.FailedPrecondition, "session expired")
		case errors.Is(err, ErrOperationLimitExceeded):
			return nil, status.Errorf(codes.ResourceExhausted, "operation limit exceeded")
		default:
			return nil, status.Errorf(codes.Internal, "signing failed: %v", err)
		}
	}

	out, err := structpb.NewStruct(signed)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode signed payload: %v", err)
	}
	return out, nil
}

// Status returns the current session status.
func (h *Handler) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := h.session.Status()
	out, err := structpb.NewStruct(map[string]any{
		"active":        st.Active,
		"ttlSeconds":    int64(st.TTLRemaining / time.Second),
		"maxOperations": st.MaxOperations,
		"used":          st.Used,
		"address":       st.Address,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}
