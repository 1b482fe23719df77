package model

import "strconv"

// ChannelFilter — фильтр списка каналов по типу.
type ChannelFilter string

const (
	FilterAll    ChannelFilter = "all"
	FilterDirect ChannelFilter = "direct"
	FilterGroup  ChannelFilter = "group"
)

// PaginationKey — составной ключ корзины пагинации: фильтр × папка/группа.
// Разные папки UI листаются независимо.
type PaginationKey struct {
	Filter  ChannelFilter
	ScopeID string
}

func (k PaginationKey) String() string {
	if k.ScopeID == "" {
		return string(k.Filter)
	}
	return string(k.Filter) + ":" + k.ScopeID
}

// BucketFor вычисляет корзину, к которой относится канал (по типу и папке/группе).
func BucketFor(c Channel) PaginationKey {
	k := PaginationKey{Filter: FilterDirect}
	if c.Type == ChannelTypeGroup {
		k.Filter = FilterGroup
	}
	switch {
	case c.FolderID != "":
		k.ScopeID = c.FolderID
	case c.GroupID != "":
		k.ScopeID = c.GroupID
	}
	return k
}

type PaginationMeta struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
	// FilteredOneOrMorePage — по ключу загружена хотя бы одна страница.
	FilteredOneOrMorePage bool `json:"filtered_one_or_more_page"`
}

// IsLastPage истинно, когда total / per_page <= page.
func (m PaginationMeta) IsLastPage() bool {
	if m.PerPage <= 0 {
		return true
	}
	return float64(m.Total)/float64(m.PerPage) <= float64(m.Page)
}

type FetchKind string

const (
	FetchChannel   FetchKind = "channel"
	FetchChannels  FetchKind = "channels"
	FetchMembers   FetchKind = "members"
	FetchFileToken FetchKind = "file-token"
	FetchFolders   FetchKind = "folders"
	FetchCounters  FetchKind = "counters"
	FetchAvatar    FetchKind = "avatar"
)

// FetchKey — типизированный ключ флага «запрос в полёте» и флага ошибки.
type FetchKey struct {
	Kind FetchKind
	ID   string
}

func ChannelKey(id string) FetchKey   { return FetchKey{Kind: FetchChannel, ID: id} }
func MembersKey(id string) FetchKey   { return FetchKey{Kind: FetchMembers, ID: id} }
func FileTokenKey(id string) FetchKey { return FetchKey{Kind: FetchFileToken, ID: id} }
func AvatarKey(gid string) FetchKey   { return FetchKey{Kind: FetchAvatar, ID: gid} }
func FoldersKey() FetchKey            { return FetchKey{Kind: FetchFolders} }
func CountersKey() FetchKey           { return FetchKey{Kind: FetchCounters} }

// ChannelsPageKey — ключ загрузки одной страницы списка.
func ChannelsPageKey(k PaginationKey, page int) FetchKey {
	return FetchKey{Kind: FetchChannels, ID: k.String() + ":" + strconv.Itoa(page)}
}

func (k FetchKey) String() string {
	switch k.Kind {
	case FetchChannel:
		return "channel:" + k.ID
	case FetchMembers:
		return "members-" + k.ID
	case FetchFileToken:
		return k.ID
	case FetchFolders, FetchCounters:
		return string(k.Kind)
	default:
		return string(k.Kind) + ":" + k.ID
	}
}
