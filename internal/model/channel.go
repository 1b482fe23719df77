package model

import (
	"sort"
	"time"
)

type ChannelType string

const (
	ChannelTypePersonal ChannelType = "PERSONAL"
	ChannelTypeMulti    ChannelType = "MULTI"
	ChannelTypeGroup    ChannelType = "GROUP"
)

// IsDirect — личный (1:1) или многопользовательский канал.
func (t ChannelType) IsDirect() bool {
	return t == ChannelTypePersonal || t == ChannelTypeMulti
}

// ChannelTypeFor вычисляет канонический тип по числу участников вместе с собой.
func ChannelTypeFor(totalParticipants int) ChannelType {
	if totalParticipants == 2 {
		return ChannelTypePersonal
	}
	return ChannelTypeMulti
}

// Permissions — флаги прав текущего пользователя в канале.
type Permissions struct {
	ReadOnly  bool `json:"read_only"`
	CanInvite bool `json:"can_invite"`
	CanEdit   bool `json:"can_edit"`
}

type Channel struct {
	ID           string      `json:"id"`
	Type         ChannelType `json:"type"`
	Participants []string    `json:"participants"`
	GroupID      string      `json:"group_uuid,omitempty"`
	FolderID     string      `json:"folder_uuid,omitempty"`
	Deleted      bool        `json:"is_deleted"`
	LastMessage  *Message    `json:"last_message,omitempty"`
	UnreadCount  int         `json:"unread_count"`
	Permissions  Permissions `json:"permissions"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	IsBotChannel bool        `json:"is_bot_channel"`
	Encrypted    bool        `json:"is_encrypted"`
	// Detailed — запись заполнена одиночным чтением канала, а не строкой списка.
	Detailed  bool      `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasParticipant проверяет, входит ли gid в список участников.
func (c *Channel) HasParticipant(gid string) bool {
	for _, p := range c.Participants {
		if p == gid {
			return true
		}
	}
	return false
}

// SameParticipants — точное совпадение множеств участников без учёта порядка.
// Надмножество или подмножество совпадением не считается.
func (c *Channel) SameParticipants(gids []string) bool {
	a := CanonicalParticipants(c.Participants)
	b := CanonicalParticipants(gids)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CanonicalParticipants возвращает отсортированный список без пустых и повторяющихся id.
func CanonicalParticipants(gids []string) []string {
	out := make([]string, 0, len(gids))
	seen := make(map[string]struct{}, len(gids))
	for _, g := range gids {
		if g == "" {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Clone возвращает копию, не разделяющую срезы и указатели с оригиналом.
func (c Channel) Clone() Channel {
	c.Participants = append([]string(nil), c.Participants...)
	if c.LastMessage != nil {
		m := *c.LastMessage
		c.LastMessage = &m
	}
	return c
}

type Folder struct {
	ID         string   `json:"uuid"`
	Title      string   `json:"title"`
	ChannelIDs []string `json:"channel_ids"`
}

// Counter — счётчик непрочитанных для канала.
type Counter struct {
	ChannelID string `json:"channel_id"`
	Unread    int    `json:"unread"`
}
