package visualiser

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/agentsim/internal/monitoring"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "agentsim.visualiser.v1.Visualiser"

const streamFramesMethod = "/" + ServiceName + "/StreamFrames"

// FrameStream is the server side of a StreamFrames call.
type FrameStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

// VisualiserServer is the service implemented by Server.
type VisualiserServer interface {
	// StreamFrames streams every published frame until the client goes away.
	// The request may carry a "types" list restricting the agent types sent.
	StreamFrames(req *structpb.Struct, stream FrameStream) error
}

// Server implements VisualiserServer on top of a Publisher.
type Server struct {
	publisher *Publisher
}

var _ VisualiserServer = (*Server)(nil)

// NewServer creates a new gRPC service backed by publisher.
func NewServer(publisher *Publisher) *Server {
	return &Server{publisher: publisher}
}

// StreamFrames implements VisualiserServer.
func (s *Server) StreamFrames(req *structpb.Struct, stream FrameStream) error {
	types := requestedTypes(req)
	frames, done, cancel, err := s.publisher.Subscribe("grpc")
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer cancel()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return nil
		case msg := <-frames:
			pbFrame, err := msg.Filter(types).ToStruct()
			if err != nil {
				monitoring.Logf("[gRPC] encode frame %d: %v", msg.Index, err)
				continue
			}
			if err := stream.Send(pbFrame); err != nil {
				return err
			}
		}
	}
}

func requestedTypes(req *structpb.Struct) map[string]bool {
	list := req.GetFields()["types"].GetListValue().GetValues()
	if len(list) == 0 {
		return nil
	}
	out := make(map[string]bool, len(list))
	for _, v := range list {
		out[v.GetStringValue()] = true
	}
	return out
}

// RegisterVisualiserServer registers srv with s.
func RegisterVisualiserServer(s grpc.ServiceRegistrar, srv VisualiserServer) {
	s.RegisterService(&visualiserServiceDesc, srv)
}

var visualiserServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VisualiserServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamFrames",
			Handler:       streamFramesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "agentsim/visualiser.proto",
}

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(VisualiserServer).StreamFrames(req, &frameStream{stream})
}

type frameStream struct {
	grpc.ServerStream
}

func (x *frameStream) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// FrameClient receives frames from a StreamFrames call.
type FrameClient struct {
	stream grpc.ClientStream
}

// StreamFrames opens a frame stream on cc. types restricts the agent types
// sent; none means all.
func StreamFrames(ctx context.Context, cc grpc.ClientConnInterface, types ...string) (*FrameClient, error) {
	desc := &visualiserServiceDesc.Streams[0]
	stream, err := cc.NewStream(ctx, desc, streamFramesMethod)
	if err != nil {
		return nil, err
	}
	list := make([]any, len(types))
	for i, t := range types {
		list[i] = t
	}
	req, err := structpb.NewStruct(map[string]any{"types": list})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &FrameClient{stream: stream}, nil
}

// Recv blocks for the next frame.
func (c *FrameClient) Recv() (FrameMessage, error) {
	m := new(structpb.Struct)
	if err := c.stream.RecvMsg(m); err != nil {
		return FrameMessage{}, err
	}
	return FrameFromStruct(m), nil
}
