package main

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "petmarket.v1.PetMarketService"

// fullMethod returns the gRPC path of a method of the service.
func fullMethod(name string) string { return "/" + serviceName + "/" + name }

// petMarketService is the handler type checked by grpc.RegisterService.
type petMarketService interface {
	StreamMessages(req *streamMessagesRequest, stream grpc.ServerStream) error
	WatchInbox(req *empty, stream grpc.ServerStream) error
}

var _ petMarketService = (*Server)(nil)

// unary adapts a typed handler to a grpc.MethodDesc.
func unary[Req any, Resp any](name string, call func(*Server, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, msg any) (any, error) {
				req := new(Req)
				if err := fromStruct(msg.(*structpb.Struct), req); err != nil {
					return nil, status.Error(codes.InvalidArgument, err.Error())
				}
				resp, err := call(srv.(*Server), ctx, req)
				if err != nil {
					return nil, toStatus(err)
				}
				out, err := toStruct(resp)
				if err != nil {
					return nil, status.Error(codes.Internal, err.Error())
				}
				return out, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// serverStream adapts a typed server-streaming handler.
func serverStream[Req any](name string, call func(*Server, *Req, grpc.ServerStream) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			req := new(Req)
			if err := fromStruct(in, req); err != nil {
				return status.Error(codes.InvalidArgument, err.Error())
			}
			return call(srv.(*Server), req, stream)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*petMarketService)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListCategories", (*Server).ListCategories),
		unary("ListPets", (*Server).ListPets),
		unary("GetPet", (*Server).GetPet),
		unary("AddPet", (*Server).AddPet),
		unary("ListMyPets", (*Server).ListMyPets),
		unary("GetFavorites", (*Server).GetFavorites),
		unary("UpdateFavorites", (*Server).UpdateFavorites),
		unary("ToggleFavorite", (*Server).ToggleFavorite),
		unary("ListFavoritePets", (*Server).ListFavoritePets),
		unary("StartConversation", (*Server).StartConversation),
		unary("GetConversation", (*Server).GetConversation),
		unary("ListConversations", (*Server).ListConversations),
		unary("SendMessage", (*Server).SendMessage),
		unary("MarkRead", (*Server).MarkRead),
	},
	Streams: []grpc.StreamDesc{
		serverStream("StreamMessages", (*Server).StreamMessages),
		serverStream("WatchInbox", (*Server).WatchInbox),
	},
	Metadata: "petmarket/v1/petmarket.proto",
}

// publicMethods may be called without a token.
var publicMethods = map[string]bool{
	fullMethod("ListCategories"): true,
	fullMethod("ListPets"):       true,
	fullMethod("GetPet"):         true,

	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// limitedMethods are the writes subject to per-principal rate limiting.
var limitedMethods = map[string]bool{
	fullMethod("AddPet"):            true,
	fullMethod("UpdateFavorites"):   true,
	fullMethod("ToggleFavorite"):    true,
	fullMethod("StartConversation"): true,
	fullMethod("SendMessage"):       true,
}
