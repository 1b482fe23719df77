package channel

import (
	"strings"

	"github.com/messenger/chansync/internal/api"
	"github.com/messenger/chansync/internal/channelstore"
	"github.com/messenger/chansync/internal/model"
)

// maxTitleMembers — сколько имён участников попадает в заголовок личного/мульти канала.
const maxTitleMembers = 3

// Normalizer приводит ответ бэкенда к записи кеша: заголовок, описание и признак бот-канала
// вычисляются один раз здесь, а не при каждом рендере списка.
type Normalizer struct {
	SelfGID string
	BotGID  string
}

// Channel нормализует DTO. Имена участников берутся из снимка кеша, поэтому
// вложенные members ответа нужно записать в кеш до вызова.
func (n Normalizer) Channel(dto api.ChannelDTO, s channelstore.Snapshot) model.Channel {
	c := model.Channel{
		ID:           dto.UUID,
		Type:         dto.Type,
		Participants: append([]string(nil), dto.Participants...),
		GroupID:      dto.GroupUUID,
		FolderID:     dto.FolderUUID,
		Deleted:      dto.IsDeleted,
		LastMessage:  dto.LastMessage,
		UnreadCount:  dto.UnreadCount,
		Permissions:  dto.Permissions,
		Title:        dto.Title,
		Description:  dto.Description,
		Encrypted:    dto.IsEncrypted,
	}
	if c.LastMessage != nil {
		m := *c.LastMessage
		c.LastMessage = &m
	}
	if c.Type == "" {
		c.Type = model.ChannelTypeFor(len(c.Participants))
	}
	// у группы свои заголовок и описание
	if c.Type == model.ChannelTypeGroup {
		return c
	}

	c.IsBotChannel = n.BotGID != "" && c.HasParticipant(n.BotGID)

	others := n.resolvedOthers(c.Participants, s)
	if len(others) > 0 {
		names := make([]string, 0, maxTitleMembers)
		for _, m := range others {
			if len(names) == maxTitleMembers {
				break
			}
			names = append(names, m.Name())
		}
		c.Title = strings.Join(names, ", ")
	}

	switch {
	case c.IsBotChannel:
		if human, ok := n.human(c.Participants, s); ok {
			if c.Title == "" || c.Title == n.botName(s) {
				c.Title = human.Name()
			}
			if c.Description == "" {
				c.Description = human.Name()
			}
		}
	case c.Type == model.ChannelTypePersonal:
		if len(others) > 0 {
			c.Description = describe(others[0])
		}
	}
	// MULTI: описание как пришло, пустое собирает UI из имён участников
	return c
}

// resolvedOthers — известные кешу участники, кроме себя, в порядке списка участников.
func (n Normalizer) resolvedOthers(participants []string, s channelstore.Snapshot) []model.Member {
	out := make([]model.Member, 0, len(participants))
	for _, gid := range participants {
		if gid == n.SelfGID {
			continue
		}
		if m, ok := s.Member(gid); ok {
			out = append(out, m)
		}
	}
	return out
}

// human — человек в бот-канале: первый участник, не являющийся ботом и не собой;
// если такого нет, канал бота с самим пользователем.
func (n Normalizer) human(participants []string, s channelstore.Snapshot) (model.Member, bool) {
	for _, gid := range participants {
		if gid == n.BotGID || gid == n.SelfGID {
			continue
		}
		if m, ok := s.Member(gid); ok {
			return m, true
		}
		return model.Member{GID: gid}, true
	}
	if n.SelfGID == "" {
		return model.Member{}, false
	}
	if m, ok := s.Member(n.SelfGID); ok {
		return m, true
	}
	return model.Member{GID: n.SelfGID}, true
}

func (n Normalizer) botName(s channelstore.Snapshot) string {
	if m, ok := s.Member(n.BotGID); ok {
		return m.Name()
	}
	return n.BotGID
}

func describe(m model.Member) string {
	if m.Location == "" {
		return m.Name()
	}
	return m.Name() + ", " + m.Location
}
