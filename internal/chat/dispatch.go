package chat

import (
	"context"

	"github.com/blogchat/internal/logger"
	"github.com/blogchat/internal/model"
	"github.com/blogchat/internal/transport"
)

// HandleEvent applies one server event. Events must be handled in arrival
// order; Run does that for a connection's event channel.
func (s *Session) HandleEvent(ctx context.Context, ev transport.Event) error {
	switch ev.Type {
	case transport.EventNewMessage:
		var m model.Message
		if err := ev.Decode(&m); err != nil {
			return err
		}
		s.onNewMessage(ctx, &m)

	case transport.EventMessageDeleted:
		var p transport.MessageDeletedPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if s.timeline.RemoveByID(p.MessageID) {
			s.publish(ViewUpdate{Kind: UpdateTimeline, ConversationID: s.timeline.ConversationID()})
		}
		s.requestRefresh(ctx)

	case transport.EventMessageReaction:
		var p transport.ReactionPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		s.onReaction(p)

	case transport.EventUserTyping, transport.EventUserStopTyping:
		var p transport.TypingPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		var changed bool
		if ev.Type == transport.EventUserTyping {
			changed = s.presence.StartTyping(p.ConversationID, p.UserID)
		} else {
			changed = s.presence.StopTyping(p.ConversationID, p.UserID)
		}
		if changed {
			s.publish(ViewUpdate{Kind: UpdateTyping, ConversationID: p.ConversationID, Data: s.presence.Typing()})
		}

	case transport.EventUserOnline, transport.EventUserOffline:
		var p transport.PresencePayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if ev.Type == transport.EventUserOnline {
			s.presence.MarkOnline(p.UserID)
		} else {
			s.presence.MarkOffline(p.UserID, p.LastSeen)
		}
		s.publish(ViewUpdate{Kind: UpdatePresence, Data: p.UserID})

	case transport.EventConversationTrashed:
		var p transport.ConversationPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		s.CloseIfActive(p.ConversationID)
		s.requestRefresh(ctx)

	case transport.EventConversationRestored:
		s.requestRefresh(ctx)

	case transport.EventMessageInTrashedChat:
		var p transport.TrashedChatMessagePayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		s.life.MessageInTrashedChat(ctx, p.ConversationID, p.Sender, p.Text)

	case transport.EventConversationThemeSet:
		var p transport.ThemePayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		s.applyTheme(p.ConversationID, p.Theme)

	case transport.EventUserDeleted:
		var p transport.UserDeletedPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		s.onUserDeleted(p.UserID)

	default:
		logger.Debugf("chat: ignoring event %q", ev.Type)
		return nil
	}
	return nil
}

func (s *Session) onNewMessage(ctx context.Context, m *model.Message) {
	if m.ConversationID == "" {
		logger.Errorf("chat: new_message %s without conversation", m.ID)
		return
	}
	if s.timeline.AppendIncoming(m) {
		s.publish(ViewUpdate{Kind: UpdateTimeline, ConversationID: m.ConversationID})
		if m.SenderID() != s.self.ID {
			if err := s.backend.MarkRead(ctx, m.ConversationID); err != nil {
				logger.Errorf("chat: mark read %s: %v", m.ConversationID, err)
			}
		}
	}
	// lastMessage and ordering of the list are server-computed
	s.requestRefresh(ctx)
}

func (s *Session) onReaction(p transport.ReactionPayload) {
	if p.ConversationID != "" && p.ConversationID != s.timeline.ConversationID() {
		return
	}
	if !s.timeline.ApplyReaction(p.MessageID, p.Reactions) {
		return
	}
	s.publish(ViewUpdate{Kind: UpdateTimeline, ConversationID: s.timeline.ConversationID()})
	if p.Emoji == model.CelebrationEmoji && hasEmoji(p.Reactions, p.Emoji) {
		s.publish(ViewUpdate{Kind: UpdateCelebration, ConversationID: s.timeline.ConversationID(), Data: p.MessageID})
	}
}

func (s *Session) onUserDeleted(userID string) {
	if userID == "" {
		return
	}
	affected := s.dir.PurgeParticipant(userID)
	s.presence.Forget(userID)

	s.mu.Lock()
	var open string
	if s.active != nil && s.active.HasParticipant(userID) {
		open = s.active.ID
	}
	s.mu.Unlock()
	if open != "" {
		s.CloseIfActive(open)
	}
	if len(affected) > 0 {
		logger.Infof("chat: user %s deleted, dropped %d conversation(s)", userID, len(affected))
	}
	s.publish(ViewUpdate{Kind: UpdateDirectory, Data: userID})
}

func hasEmoji(reactions []model.Reaction, emoji string) bool {
	for _, r := range reactions {
		if r.Emoji == emoji {
			return true
		}
	}
	return false
}
