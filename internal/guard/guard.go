// Package guard — чистые предикаты «нужен ли сетевой запрос» поверх снимка кеша.
// Задача, для которой предикат вернул false, завершается без сетевого вызова.
package guard

import (
	"github.com/messenger/chansync/internal/channelstore"
	"github.com/messenger/chansync/internal/model"
)

// ChannelsParams — параметры загрузки страницы списка каналов.
type ChannelsParams struct {
	Key         model.PaginationKey
	Page        int
	PerPage     int
	// GroupScoped — Key.ScopeID это группа, а не папка.
	GroupScoped bool
}

// ShouldFetchChannel: пока чтение канала в полёте — false, даже при force.
// Иначе канал читается всегда: кеш не считается свежим.
func ShouldFetchChannel(s channelstore.Snapshot, id string, force bool) bool {
	return !s.IsFetching(model.ChannelKey(id))
}

// ShouldFetchChannels: false только если та же страница того же ключа уже в полёте.
func ShouldFetchChannels(s channelstore.Snapshot, p ChannelsParams) bool {
	return !s.IsFetching(model.ChannelsPageKey(p.Key, p.Page))
}

// ShouldFetchFolders: папки — значение холодного старта, грузятся пока ни разу не загружены.
func ShouldFetchFolders(s channelstore.Snapshot) bool {
	return !s.FoldersLoaded() && !s.IsFetching(model.FoldersKey())
}

func ShouldFetchFileToken(s channelstore.Snapshot, channelID string) bool {
	if _, ok := s.FileToken(channelID); ok {
		return false
	}
	return !s.IsFetching(model.FileTokenKey(channelID))
}
