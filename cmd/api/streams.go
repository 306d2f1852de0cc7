package main

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/auth"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/chat"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
)

type streamMessagesRequest struct {
	ConversationID string `json:"conversationId"`
	NewestFirst    bool   `json:"newestFirst"`
}

// messagesSnapshot is one StreamMessages frame: the whole ordered list.
type messagesSnapshot struct {
	ConversationID string         `json:"conversationId"`
	Messages       []data.Message `json:"messages"`
}

// inboxEvent is one WatchInbox frame. The first frame is a snapshot of the
// whole inbox, later frames update a single conversation.
type inboxEvent struct {
	Type          string                     `json:"type"`
	Conversations []data.ConversationSummary `json:"conversations,omitempty"`
	Conversation  *data.ConversationSummary  `json:"conversation,omitempty"`
}

const (
	inboxSnapshot = "snapshot"
	inboxUpdate   = "update"
)

// StreamMessages pushes the conversation's message list every time it
// changes until the client goes away.
func (s *Server) StreamMessages(req *streamMessagesRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	p, err := auth.CurrentPrincipal(ctx)
	if err != nil {
		return toStatus(err)
	}
	if _, err := s.chat.Conversation(ctx, req.ConversationID, p); err != nil {
		return toStatus(err)
	}

	sub, err := s.chat.Stream(ctx, req.ConversationID, chat.StreamOptions{NewestFirst: req.NewestFirst})
	if err != nil {
		return toStatus(err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msgs, ok := <-sub.Messages():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				// the store ended the subscription
				if err := sub.Err(); err != nil {
					return toStatus(err)
				}
				return status.Error(codes.Unavailable, "message stream ended")
			}
			frame, err := toStruct(messagesSnapshot{ConversationID: req.ConversationID, Messages: msgs})
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(frame); err != nil {
				s.log.Debug("message stream send failed", zap.String("conversation", req.ConversationID), zap.Error(err))
				return err
			}
		}
	}
}

// WatchInbox sends the caller's inbox and then one update per message
// received, via the connection hub.
func (s *Server) WatchInbox(_ *empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	p, err := auth.CurrentPrincipal(ctx)
	if err != nil {
		return toStatus(err)
	}

	// register before reading the inbox so no message is missed; pushes wait
	// for release, so the snapshot is always the first frame
	email := p.NormalizedEmail()
	connID, release := s.hub.Register(email, stream)
	defer s.hub.Unregister(email, connID)

	convs, err := s.chat.Inbox(ctx, p)
	if err != nil {
		_ = release(nil)
		return toStatus(err)
	}
	frame, err := toStruct(inboxEvent{Type: inboxSnapshot, Conversations: convs})
	if err != nil {
		_ = release(nil)
		return status.Error(codes.Internal, err.Error())
	}
	if err := release(frame); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}
