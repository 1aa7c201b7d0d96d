package runner

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// ServiceName is the gRPC service exposed by the runner.
const ServiceName = "papercloud.Session"

// Codec carries the session messages as JSON.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (Codec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(Codec{})
}

// SessionServer is implemented by SessionRunner.
type SessionServer interface {
	Create(context.Context, *CreateRequest) (*SessionInfo, error)
	Tick(context.Context, *TickRequest) (*FrameResponse, error)
	Get(context.Context, *GetRequest) (*FrameResponse, error)
	List(context.Context, *ListRequest) (*ListResponse, error)
	Summary(context.Context, *SummaryRequest) (*SummaryResponse, error)
	Close(context.Context, *CloseRequest) (*CloseResponse, error)
}

func unary[Req, Resp any](name string, call func(SessionServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SessionServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SessionServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the session service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Create", SessionServer.Create),
		unary("Tick", SessionServer.Tick),
		unary("Get", SessionServer.Get),
		unary("List", SessionServer.List),
		unary("Summary", SessionServer.Summary),
		unary("Close", SessionServer.Close),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "papercloud/session",
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv SessionServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls a remote runner.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(Codec{}.Name())}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

func (c *Client) Create(ctx context.Context, in *CreateRequest, opts ...grpc.CallOption) (*SessionInfo, error) {
	out := new(SessionInfo)
	if err := c.invoke(ctx, "Create", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Tick(ctx context.Context, in *TickRequest, opts ...grpc.CallOption) (*FrameResponse, error) {
	out := new(FrameResponse)
	if err := c.invoke(ctx, "Tick", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*FrameResponse, error) {
	out := new(FrameResponse)
	if err := c.invoke(ctx, "Get", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) List(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error) {
	out := new(ListResponse)
	if err := c.invoke(ctx, "List", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Summary(ctx context.Context, in *SummaryRequest, opts ...grpc.CallOption) (*SummaryResponse, error) {
	out := new(SummaryResponse)
	if err := c.invoke(ctx, "Summary", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Close(ctx context.Context, in *CloseRequest, opts ...grpc.CallOption) (*CloseResponse, error) {
	out := new(CloseResponse)
	if err := c.invoke(ctx, "Close", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
