package grpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name of the index service
const ServiceName = "ann.v1.IndexService"

const protoFile = "ann/v1/index.proto"

var methodNames = []string{"CreateIndex", "DeleteIndex", "InsertBatch", "Query", "Save", "Load", "Stats"}

// Every method takes and returns a google.protobuf.Struct holding the JSON
// form of the matching api request and response types.
func init() {
	methods := make([]*descriptorpb.MethodDescriptorProto, len(methodNames))
	for i, name := range methodNames {
		methods[i] = &descriptorpb.MethodDescriptorProto{
			Name:       &name,
			InputType:  strPtr(".google.protobuf.Struct"),
			OutputType: strPtr(".google.protobuf.Struct"),
		}
	}
	fdp := &descriptorpb.FileDescriptorProto{
		Name:       strPtr(protoFile),
		Package:    strPtr("ann.v1"),
		Dependency: []string{"google/protobuf/struct.proto"},
		Syntax:     strPtr("proto3"),
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   strPtr("IndexService"),
			Method: methods,
		}},
	}
	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("build %s descriptor: %v", protoFile, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("register %s: %v", protoFile, err))
	}
}

func strPtr(s string) *string { return &s }

// IndexServiceServer is the server API for the index service
type IndexServiceServer interface {
	CreateIndex(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteIndex(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InsertBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Save(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Load(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterIndexServiceServer registers srv with s
func RegisterIndexServiceServer(s grpc.ServiceRegistrar, srv IndexServiceServer) {
	s.RegisterService(&IndexServiceDesc, srv)
}

func unaryHandler(name string, call func(IndexServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(IndexServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(IndexServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// IndexServiceDesc describes the index service for grpc.Server
var IndexServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IndexServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("CreateIndex", IndexServiceServer.CreateIndex),
		unaryHandler("DeleteIndex", IndexServiceServer.DeleteIndex),
		unaryHandler("InsertBatch", IndexServiceServer.InsertBatch),
		unaryHandler("Query", IndexServiceServer.Query),
		unaryHandler("Save", IndexServiceServer.Save),
		unaryHandler("Load", IndexServiceServer.Load),
		unaryHandler("Stats", IndexServiceServer.Stats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: protoFile,
}

// EncodeStruct converts v to a Struct through its JSON form
func EncodeStruct(v interface{}) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%T does not encode to a JSON object: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// DecodeStruct fills v from the JSON form of s. Unknown fields are rejected.
func DecodeStruct(s *structpb.Struct, v interface{}) error {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Client is a typed client of the index service
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a client over cc
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with req encoded as a Struct and decodes the answer
// into resp
func (c *Client) Call(ctx context.Context, method string, req, resp interface{}, opts ...grpc.CallOption) error {
	in, err := EncodeStruct(req)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "encode request: %v", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return DecodeStruct(out, resp)
}
