package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/messenger/chansync/internal/api"
	"github.com/messenger/chansync/internal/channel"
	"github.com/messenger/chansync/internal/channelstore"
	"github.com/messenger/chansync/internal/logger"
	"github.com/messenger/chansync/internal/metrics"
	"github.com/messenger/chansync/internal/model"
)

// Applier writes server events into the channel store.
type Applier struct {
	store   channelstore.Repository
	norm    channel.Normalizer
	metrics *metrics.Metrics
}

func NewApplier(store channelstore.Repository, norm channel.Normalizer, m *metrics.Metrics) *Applier {
	return &Applier{store: store, norm: norm, metrics: m}
}

// Apply handles one event. Events for channels the store does not know are ignored;
// a later fetch brings them in.
func (a *Applier) Apply(ev Event) error {
	switch ev.Type {
	case EventChatCreated:
		var dto api.ChannelDTO
		if err := json.Unmarshal(ev.Payload, &dto); err != nil {
			return fmt.Errorf("realtime: %s payload: %w", ev.Type, err)
		}
		a.store.UpsertMembers(dto.Members)
		a.store.AddChannel(a.norm.Channel(dto, a.store))

	case EventChatUpdated:
		var p ChatUpdatedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("realtime: %s payload: %w", ev.Type, err)
		}
		a.store.UpdateChannel(p.ChatID, func(c *model.Channel) {
			if p.Title != nil {
				c.Title = *p.Title
			}
			if p.Description != nil {
				c.Description = *p.Description
			}
		})

	case EventMemberRemoved:
		var p MemberRemovedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("realtime: %s payload: %w", ev.Type, err)
		}
		if p.UserID == a.norm.SelfGID {
			a.store.RemoveChannel(p.ChatID)
			break
		}
		a.store.UpdateChannel(p.ChatID, func(c *model.Channel) {
			kept := c.Participants[:0]
			for _, gid := range c.Participants {
				if gid != p.UserID {
					kept = append(kept, gid)
				}
			}
			c.Participants = kept
		})

	case EventNewMessage:
		var p NewMessagePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("realtime: %s payload: %w", ev.Type, err)
		}
		msg := p.Message
		if p.ChatID != "" {
			msg.ChannelID = p.ChatID
		}
		a.store.UpdateChannel(msg.ChannelID, func(c *model.Channel) {
			c.LastMessage = &msg
			if msg.SenderID != a.norm.SelfGID {
				c.UnreadCount++
			}
		})

	case EventMessageRead:
		var p MessageReadPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("realtime: %s payload: %w", ev.Type, err)
		}
		if p.UserID == a.norm.SelfGID {
			a.store.UpdateChannel(p.ChatID, func(c *model.Channel) { c.UnreadCount = 0 })
		}

	case EventError:
		logger.Errorf("realtime: server error event: %s", ev.Payload)

	default:
		logger.Debugf("realtime: ignore event %s", ev.Type)
		return nil
	}
	a.metrics.Event(string(ev.Type))
	return nil
}
