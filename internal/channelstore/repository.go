// Package channelstore — нормализованный кеш каналов, участников, пагинации,
// файловых токенов, секретов и флагов загрузки. Все изменения идут только через него.
package channelstore

import "github.com/messenger/chansync/internal/model"

// Snapshot — чтение состояния кеша. Его получают guard-предикаты.
type Snapshot interface {
	Channel(id string) (model.Channel, bool)
	Channels() []model.Channel
	Member(gid string) (model.Member, bool)
	Members(gids []string) []model.Member
	ChannelMemberIDs(channelID string) []string
	Pagination(key model.PaginationKey) (model.PaginationMeta, bool)
	FileToken(channelID string) (string, bool)
	Secret(channelID string) ([]byte, bool)
	Folders() []model.Folder
	FoldersLoaded() bool
	IsFetching(key model.FetchKey) bool
	FetchError(key model.FetchKey) error
	FindChannel(participants []string, groupID string) (model.Channel, bool)
}

// Repository — полный контракт хранилища, внедряется в каждый компонент.
type Repository interface {
	Snapshot

	UpsertChannel(c model.Channel) model.Channel
	UpsertChannels(cs []model.Channel)
	UpsertMembers(ms []model.Member)
	UpdateMember(gid string, fn func(*model.Member)) bool
	// UpdateChannel меняет известный канал на месте; false — канала нет.
	UpdateChannel(id string, fn func(*model.Channel)) bool
	MarkChannelMembers(channelID string, gids []string)
	SetPaginationMeta(key model.PaginationKey, meta model.PaginationMeta)
	SetFolders(fs []model.Folder)
	SetFileToken(channelID, token string)
	SetSecret(channelID string, secret []byte)
	SetFetchState(key model.FetchKey, fetching bool)
	AddChannel(c model.Channel) bool
	RemoveChannel(id string) bool
	ApplyCounters(cs []model.Counter) int

	// TryClaim атомарно проверяет и ставит флаг загрузки. false — запрос уже в полёте.
	TryClaim(key model.FetchKey) bool
	// Release снимает флаг и записывает (или сбрасывает) флаг ошибки.
	Release(key model.FetchKey, err error)
}
