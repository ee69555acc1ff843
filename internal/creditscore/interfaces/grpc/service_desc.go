// Package grpc 提供信用分服务的 gRPC 接口实现。
// 消息统一使用 google.protobuf.Struct，服务描述手工注册。
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "creditscore.v1.CreditScoreService"

	MethodApplyScoreChange  = "/" + ServiceName + "/ApplyScoreChange"
	MethodGetCurrentScore   = "/" + ServiceName + "/GetCurrentScore"
	MethodGetScoreHistory   = "/" + ServiceName + "/GetScoreHistory"
	MethodGrantOneTimeBonus = "/" + ServiceName + "/GrantOneTimeBonus"
)

// IsMutation 方法是否会变更积分，限流时按写请求计费
func IsMutation(fullMethod string) bool {
	return fullMethod == MethodApplyScoreChange || fullMethod == MethodGrantOneTimeBonus
}

// CreditScoreServer 服务端接口
type CreditScoreServer interface {
	ApplyScoreChange(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetCurrentScore(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetScoreHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GrantOneTimeBonus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterCreditScoreServer 注册服务
func RegisterCreditScoreServer(s grpc.ServiceRegistrar, srv CreditScoreServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc 服务描述
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CreditScoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ApplyScoreChange", Handler: unaryHandler(MethodApplyScoreChange, CreditScoreServer.ApplyScoreChange)},
		{MethodName: "GetCurrentScore", Handler: unaryHandler(MethodGetCurrentScore, CreditScoreServer.GetCurrentScore)},
		{MethodName: "GetScoreHistory", Handler: unaryHandler(MethodGetScoreHistory, CreditScoreServer.GetScoreHistory)},
		{MethodName: "GrantOneTimeBonus", Handler: unaryHandler(MethodGrantOneTimeBonus, CreditScoreServer.GrantOneTimeBonus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "creditscore/v1/creditscore.proto",
}

type unaryMethod func(CreditScoreServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CreditScoreServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CreditScoreServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Client 客户端
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient 创建客户端
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ApplyScoreChange(ctx context.Context, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodApplyScoreChange, req, opts...)
}

func (c *Client) GetCurrentScore(ctx context.Context, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetCurrentScore, req, opts...)
}

func (c *Client) GetScoreHistory(ctx context.Context, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetScoreHistory, req, opts...)
}

func (c *Client) GrantOneTimeBonus(ctx context.Context, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGrantOneTimeBonus, req, opts...)
}
