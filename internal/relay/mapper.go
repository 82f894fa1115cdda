package relay

import (
	"encoding/json"
	"fmt"

	"github.com/vovakirdan/roomsync/internal/core"
	"github.com/vovakirdan/roomsync/internal/proto"
)

func inboundToCommand(inbound proto.Inbound) (*Command, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeJoin:
		var join proto.JoinData
		if err := json.Unmarshal(inbound.Data, &join); err != nil {
			return nil, nil, err
		}
		if join.Room == "" || join.Key == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "room and key are required"}, nil
		}
		if join.Protocol != 0 && join.Protocol != proto.ProtocolVersion {
			return nil, &proto.Error{
				Code: core.ErrCodeBadRequest,
				Msg:  fmt.Sprintf("unsupported protocol %d", join.Protocol),
			}, nil
		}
		return &Command{
			Kind:  CommandJoin,
			Room:  join.Room,
			Key:   join.Key,
			Token: join.Token,
			Self:  join.Self,
		}, nil, nil
	case proto.InboundTypeTrack:
		var track proto.TrackData
		if len(inbound.Data) > 0 {
			if err := json.Unmarshal(inbound.Data, &track); err != nil {
				return nil, nil, err
			}
		}
		return &Command{Kind: CommandTrack, Payload: track.Payload}, nil, nil
	case proto.InboundTypeUntrack:
		return &Command{Kind: CommandUntrack}, nil, nil
	case proto.InboundTypeBroadcast:
		var b proto.BroadcastData
		if err := json.Unmarshal(inbound.Data, &b); err != nil {
			return nil, nil, err
		}
		if b.Event == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "event is required"}, nil
		}
		return &Command{Kind: CommandBroadcast, Event: b.Event, Payload: b.Payload}, nil, nil
	case proto.InboundTypeLeave:
		return &Command{Kind: CommandLeave}, nil, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "unknown message type"}, nil
	}
}

func outboundFromEvent(event *Event) proto.Outbound {
	switch event.Kind {
	case EventStatus:
		return proto.Outbound{
			Type: proto.OutboundTypeStatus,
			Data: proto.StatusData{Room: event.Room, Status: event.Status},
		}
	case EventBroadcast:
		return proto.Outbound{
			Type: proto.OutboundTypeBroadcast,
			Data: proto.BroadcastData{Event: event.Name, Payload: event.Payload},
		}
	case EventPresenceState:
		keys := event.Keys
		if keys == nil {
			keys = []string{}
		}
		return proto.Outbound{
			Type: proto.OutboundTypePresenceState,
			Data: proto.PresenceStateData{Room: event.Room, Keys: keys},
		}
	case EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown event"}}
	}
}
