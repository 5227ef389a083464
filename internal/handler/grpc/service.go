package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "geolocate.v1.GeoIPService"

// GeoIPServiceServer is the server API for the GeoIP service. Requests carry
// a "query" string field; responses mirror the JSON bodies of the HTTP API.
type GeoIPServiceServer interface {
	Country(context.Context, *structpb.Struct) (*structpb.Struct, error)
	City(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Coords(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv GeoIPServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func unaryHandler(method string, call func(GeoIPServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(GeoIPServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(GeoIPServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GeoIPServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Country", GeoIPServiceServer.Country),
		unaryHandler("City", GeoIPServiceServer.City),
		unaryHandler("Coords", GeoIPServiceServer.Coords),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "geolocate/v1/geoip.proto",
}
