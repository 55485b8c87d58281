// Package api serves the daemon's control surface over gRPC. Messages are
// google.protobuf.Struct values, so the service needs no generated code.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "netid.v1.Control"

// Method names.
const (
	MethodStatus           = "Status"
	MethodLogin            = "Login"
	MethodLogout           = "Logout"
	MethodListFriends      = "ListFriends"
	MethodRefreshFriends   = "RefreshFriends"
	MethodQueryPresence    = "QueryPresence"
	MethodSetPresence      = "SetPresence"
	MethodSendInvite       = "SendInvite"
	MethodAcceptInvite     = "AcceptInvite"
	MethodRejectInvite     = "RejectInvite"
	MethodQueryUserInfo    = "QueryUserInfo"
	MethodCreateSession    = "CreateSession"
	MethodStartSession     = "StartSession"
	MethodUpdateSession    = "UpdateSession"
	MethodEndSession       = "EndSession"
	MethodDestroySession   = "DestroySession"
	MethodSessionState     = "SessionState"
	MethodListSessions     = "ListSessions"
	MethodFindSessions     = "FindSessions"
	MethodRegisterPlayer   = "RegisterPlayer"
	MethodUnregisterPlayer = "UnregisterPlayer"
	MethodWatchEvents      = "WatchEvents"
)

// FullMethod returns the wire path of a method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ControlServer is implemented by Service.
type ControlServer interface {
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

type unaryFunc func(s *Service, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Service)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Service).WatchEvents(in, stream)
}

// ServiceDesc describes the Control service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStatus, (*Service).Status),
		unary(MethodLogin, (*Service).Login),
		unary(MethodLogout, (*Service).Logout),
		unary(MethodListFriends, (*Service).ListFriends),
		unary(MethodRefreshFriends, (*Service).RefreshFriends),
		unary(MethodQueryPresence, (*Service).QueryPresence),
		unary(MethodSetPresence, (*Service).SetPresence),
		unary(MethodSendInvite, (*Service).SendInvite),
		unary(MethodAcceptInvite, (*Service).AcceptInvite),
		unary(MethodRejectInvite, (*Service).RejectInvite),
		unary(MethodQueryUserInfo, (*Service).QueryUserInfo),
		unary(MethodCreateSession, (*Service).CreateSession),
		unary(MethodStartSession, (*Service).StartSession),
		unary(MethodUpdateSession, (*Service).UpdateSession),
		unary(MethodEndSession, (*Service).EndSession),
		unary(MethodDestroySession, (*Service).DestroySession),
		unary(MethodSessionState, (*Service).SessionState),
		unary(MethodListSessions, (*Service).ListSessions),
		unary(MethodFindSessions, (*Service).FindSessions),
		unary(MethodRegisterPlayer, (*Service).RegisterPlayer),
		unary(MethodUnregisterPlayer, (*Service).UnregisterPlayer),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchEvents,
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "netid/v1/control.proto",
}

// Register attaches s to srv.
func Register(srv grpc.ServiceRegistrar, s *Service) {
	srv.RegisterService(&ServiceDesc, s)
}
