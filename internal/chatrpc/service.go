package chatrpc

import (
	"context"

	"github.com/PaulBabatuyi/roomchat/internal/data"
	"github.com/PaulBabatuyi/roomchat/internal/realtime"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "chat.v1.ChatService"

const (
	RegisterMethod        = "/chat.v1.ChatService/Register"
	LoginMethod           = "/chat.v1.ChatService/Login"
	CreateChatMethod      = "/chat.v1.ChatService/CreateChat"
	CreateGroupChatMethod = "/chat.v1.ChatService/CreateGroupChat"
	DeleteChatMethod      = "/chat.v1.ChatService/DeleteChat"
	UpdateGroupMethod     = "/chat.v1.ChatService/UpdateGroup"
	ListChatsMethod       = "/chat.v1.ChatService/ListChats"
	GetHistoryMethod      = "/chat.v1.ChatService/GetHistory"
	ConnectMethod         = "/chat.v1.ChatService/Connect"
)

type (
	ChatService_ListChatsServer  = grpc.ServerStreamingServer[data.ChatSummary]
	ChatService_GetHistoryServer = grpc.ServerStreamingServer[data.Message]
	// ChatService_ConnectServer receives client envelopes and sends events.
	ChatService_ConnectServer = grpc.BidiStreamingServer[realtime.Envelope, realtime.Event]
)

// ChatServiceServer is the server API for chat.v1.ChatService.
type ChatServiceServer interface {
	Register(context.Context, *RegisterRequest) (*AuthResponse, error)
	Login(context.Context, *LoginRequest) (*AuthResponse, error)
	CreateChat(context.Context, *CreateChatRequest) (*ChatResponse, error)
	CreateGroupChat(context.Context, *CreateGroupChatRequest) (*ChatResponse, error)
	DeleteChat(context.Context, *DeleteChatRequest) (*DeleteChatResponse, error)
	UpdateGroup(context.Context, *UpdateGroupRequest) (*UpdateGroupResponse, error)
	ListChats(*ListChatsRequest, ChatService_ListChatsServer) error
	GetHistory(*GetHistoryRequest, ChatService_GetHistoryServer) error
	// Connect is the realtime event stream. The bearer token travels in the
	// "authorization" metadata of the stream.
	Connect(ChatService_ConnectServer) error
}

// UnimplementedChatServiceServer can be embedded for forward compatibility.
type UnimplementedChatServiceServer struct{}

func (UnimplementedChatServiceServer) Register(context.Context, *RegisterRequest) (*AuthResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Register not implemented")
}
func (UnimplementedChatServiceServer) Login(context.Context, *LoginRequest) (*AuthResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Login not implemented")
}
func (UnimplementedChatServiceServer) CreateChat(context.Context, *CreateChatRequest) (*ChatResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CreateChat not implemented")
}
func (UnimplementedChatServiceServer) CreateGroupChat(context.Context, *CreateGroupChatRequest) (*ChatResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CreateGroupChat not implemented")
}
func (UnimplementedChatServiceServer) DeleteChat(context.Context, *DeleteChatRequest) (*DeleteChatResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method DeleteChat not implemented")
}
func (UnimplementedChatServiceServer) UpdateGroup(context.Context, *UpdateGroupRequest) (*UpdateGroupResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method UpdateGroup not implemented")
}
func (UnimplementedChatServiceServer) ListChats(*ListChatsRequest, ChatService_ListChatsServer) error {
	return status.Errorf(codes.Unimplemented, "method ListChats not implemented")
}
func (UnimplementedChatServiceServer) GetHistory(*GetHistoryRequest, ChatService_GetHistoryServer) error {
	return status.Errorf(codes.Unimplemented, "method GetHistory not implemented")
}
func (UnimplementedChatServiceServer) Connect(ChatService_ConnectServer) error {
	return status.Errorf(codes.Unimplemented, "method Connect not implemented")
}

// RegisterChatServiceServer registers srv on s.
func RegisterChatServiceServer(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unaryHandler adapts a typed unary method to grpc's handler signature,
// running the server's interceptor chain if one is installed.
func unaryHandler[Req, Resp any](method string, call func(ChatServiceServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ChatServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ChatServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func listChatsHandler(srv any, stream grpc.ServerStream) error {
	m := new(ListChatsRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ChatServiceServer).ListChats(m, &grpc.GenericServerStream[ListChatsRequest, data.ChatSummary]{ServerStream: stream})
}

func getHistoryHandler(srv any, stream grpc.ServerStream) error {
	m := new(GetHistoryRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ChatServiceServer).GetHistory(m, &grpc.GenericServerStream[GetHistoryRequest, data.Message]{ServerStream: stream})
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ChatServiceServer).Connect(&grpc.GenericServerStream[realtime.Envelope, realtime.Event]{ServerStream: stream})
}

// ServiceDesc is the grpc.ServiceDesc for chat.v1.ChatService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Register",
			Handler: unaryHandler(RegisterMethod, func(s ChatServiceServer, ctx context.Context, r *RegisterRequest) (*AuthResponse, error) {
				return s.Register(ctx, r)
			}),
		},
		{
			MethodName: "Login",
			Handler: unaryHandler(LoginMethod, func(s ChatServiceServer, ctx context.Context, r *LoginRequest) (*AuthResponse, error) {
				return s.Login(ctx, r)
			}),
		},
		{
			MethodName: "CreateChat",
			Handler: unaryHandler(CreateChatMethod, func(s ChatServiceServer, ctx context.Context, r *CreateChatRequest) (*ChatResponse, error) {
				return s.CreateChat(ctx, r)
			}),
		},
		{
			MethodName: "CreateGroupChat",
			Handler: unaryHandler(CreateGroupChatMethod, func(s ChatServiceServer, ctx context.Context, r *CreateGroupChatRequest) (*ChatResponse, error) {
				return s.CreateGroupChat(ctx, r)
			}),
		},
		{
			MethodName: "DeleteChat",
			Handler: unaryHandler(DeleteChatMethod, func(s ChatServiceServer, ctx context.Context, r *DeleteChatRequest) (*DeleteChatResponse, error) {
				return s.DeleteChat(ctx, r)
			}),
		},
		{
			MethodName: "UpdateGroup",
			Handler: unaryHandler(UpdateGroupMethod, func(s ChatServiceServer, ctx context.Context, r *UpdateGroupRequest) (*UpdateGroupResponse, error) {
				return s.UpdateGroup(ctx, r)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ListChats",
			Handler:       listChatsHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "GetHistory",
			Handler:       getHistoryHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "chat/v1/chat.proto",
}
