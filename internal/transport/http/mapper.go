package http

import (
	"encoding/json"

	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

func inboundToCommand(inbound proto.Inbound) (*core.Command, error) {
	switch inbound.Type {
	case proto.InboundTypeSendMessage:
		var msg proto.SendMessageData
		if err := json.Unmarshal(inbound.Data, &msg); err != nil {
			return nil, core.BadRequestError("invalid send_message payload")
		}
		if msg.ReceiverID == "" && msg.GroupID == "" {
			return nil, core.BadRequestError("receiverId or groupId is required")
		}
		return &core.Command{
			Kind:    core.CommandSendMessage,
			Ref:     inbound.Ref,
			Target:  core.Target{ReceiverID: msg.ReceiverID, GroupID: msg.GroupID},
			Content: msg.Content,
		}, nil
	case proto.InboundTypeTypingStart, proto.InboundTypeTypingStop:
		var typing proto.TypingData
		if err := json.Unmarshal(inbound.Data, &typing); err != nil {
			return nil, core.BadRequestError("invalid typing payload")
		}
		if typing.TargetID == "" {
			return nil, core.BadRequestError("targetId is required")
		}
		kind := core.CommandTypingStart
		if inbound.Type == proto.InboundTypeTypingStop {
			kind = core.CommandTypingStop
		}
		return &core.Command{
			Kind:     kind,
			Ref:      inbound.Ref,
			TargetID: typing.TargetID,
		}, nil
	default:
		return nil, core.BadRequestError("unknown message type")
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventReceiveMessage,
			Data:  receiveMessage(event.Message),
		}
	case core.EventTypingStart:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventTypingStart,
			Data: proto.TypingStart{
				UserID:   event.Typing.UserID,
				Username: event.Typing.Username,
				TargetID: event.Typing.TargetID,
			},
		}
	case core.EventTypingStop:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventTypingStop,
			Data: proto.TypingStop{
				UserID:   event.Typing.UserID,
				TargetID: event.Typing.TargetID,
			},
		}
	case core.EventUserOnline:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventUserOnline,
			Data:  proto.Presence{UserID: event.UserID},
		}
	case core.EventUserOffline:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventUserOffline,
			Data:  proto.Presence{UserID: event.UserID},
		}
	case core.EventOnlineUsers:
		ids := event.Online
		if ids == nil {
			ids = []string{}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventOnlineUsers,
			Data:  proto.OnlineUsers{UserIDs: ids},
		}
	case core.EventAck:
		out := proto.Outbound{Type: proto.OutboundTypeAck, Ref: event.Ref}
		if event.Message != nil {
			out.Data = proto.Ack{
				MessageID:      event.Message.ID,
				ConversationID: event.Message.ConversationID,
				Timestamp:      event.Message.CreatedAt.UnixMilli(),
			}
		}
		return out
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Ref: event.Ref, Error: &proto.Error{Code: core.ErrCodeInternal, Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Ref:   event.Ref,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func receiveMessage(msg *core.Message) proto.ReceiveMessage {
	return proto.ReceiveMessage{
		ID:             msg.ID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		Content:        msg.Content,
		Timestamp:      msg.CreatedAt.UnixMilli(),
		ConversationID: msg.ConversationID,
		GroupID:        msg.GroupID,
		ReceiverID:     msg.ReceiverID,
	}
}
