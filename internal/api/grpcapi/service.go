package grpcapi

import (
	"context"
	"encoding/json"

	"github.com/KevinKickass/OpenMotionCore/internal/report"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// StatusSource is the part of the reporter the service reads.
type StatusSource interface {
	Last() report.Status
	Subscribe() <-chan report.Event
	Unsubscribe(ch <-chan report.Event)
}

type StatusService struct {
	UnimplementedStatusServiceServer
	source StatusSource
}

func NewStatusService(source StatusSource) *StatusService {
	return &StatusService{source: source}
}

// GetStatus returns the most recent status report.
func (s *StatusService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.source.Last())
}

// WatchStatus sends the current status, then every status report until
// the client goes away.
func (s *StatusService) WatchStatus(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	eventCh := s.source.Subscribe()
	defer s.source.Unsubscribe(eventCh)

	first, err := toStruct(s.source.Last())
	if err != nil {
		return err
	}
	if err := stream.Send(first); err != nil {
		return err
	}

	for {
		select {
		case event, ok := <-eventCh:
			if !ok {
				return nil
			}
			if event.Type != report.EventStatus || event.Status == nil {
				continue
			}

			msg, err := toStruct(*event.Status)
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				return err
			}

		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// toStruct goes through JSON so the message carries the same field names
// as the REST and WebSocket payloads.
func toStruct(st report.Status) (*structpb.Struct, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return msg, nil
}
