package channelstore

import (
	"sync"

	"github.com/messenger/chansync/internal/model"
)

// Store — in-memory реализация Repository. Каждая операция атомарна: один мьютекс
// на всё состояние, чтения отдают копии.
type Store struct {
	mu sync.RWMutex

	channels       map[string]model.Channel
	members        map[string]model.Member
	channelMembers map[string]map[string]struct{}
	pagination     map[model.PaginationKey]model.PaginationMeta
	fileTokens     map[string]string
	secrets        map[string][]byte
	folders        []model.Folder
	foldersLoaded  bool
	fetching       map[model.FetchKey]struct{}
	errs           map[model.FetchKey]error
}

var _ Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		channels:       make(map[string]model.Channel),
		members:        make(map[string]model.Member),
		channelMembers: make(map[string]map[string]struct{}),
		pagination:     make(map[model.PaginationKey]model.PaginationMeta),
		fileTokens:     make(map[string]string),
		secrets:        make(map[string][]byte),
		fetching:       make(map[model.FetchKey]struct{}),
		errs:           make(map[model.FetchKey]error),
	}
}

func (s *Store) Channel(id string) (model.Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[id]
	if !ok {
		return model.Channel{}, false
	}
	return c.Clone(), true
}

func (s *Store) Channels() []model.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Channel, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c.Clone())
	}
	return out
}

func (s *Store) Member(gid string) (model.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[gid]
	return m, ok
}

// Members возвращает известные identity в порядке gids; неизвестные пропускаются.
func (s *Store) Members(gids []string) []model.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Member, 0, len(gids))
	for _, g := range gids {
		if m, ok := s.members[g]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (s *Store) ChannelMemberIDs(channelID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.channelMembers[channelID]
	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	return out
}

func (s *Store) Pagination(key model.PaginationKey) (model.PaginationMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.pagination[key]
	return m, ok
}

func (s *Store) FileToken(channelID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.fileTokens[channelID]
	return t, ok
}

func (s *Store) Secret(channelID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[channelID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (s *Store) Folders() []model.Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Folder(nil), s.folders...)
}

func (s *Store) FoldersLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.foldersLoaded
}

func (s *Store) IsFetching(key model.FetchKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.fetching[key]
	return ok
}

func (s *Store) FetchError(key model.FetchKey) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errs[key]
}

// FindChannel ищет неудалённый личный/мульти канал с точно таким же набором участников
// в той же группе.
func (s *Store) FindChannel(participants []string, groupID string) (model.Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.channels {
		if c.Deleted || !c.Type.IsDirect() || c.GroupID != groupID {
			continue
		}
		if c.SameParticipants(participants) {
			return c.Clone(), true
		}
	}
	return model.Channel{}, false
}

// UpsertChannel вставляет или обновляет канал. Признак Detailed не сбрасывается
// строкой списка.
func (s *Store) UpsertChannel(c model.Channel) model.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(c)
}

func (s *Store) upsertLocked(c model.Channel) model.Channel {
	c = c.Clone()
	if old, ok := s.channels[c.ID]; ok && old.Detailed {
		c.Detailed = true
	}
	s.channels[c.ID] = c
	return c.Clone()
}

func (s *Store) UpsertChannels(cs []model.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cs {
		s.upsertLocked(c)
	}
}

// UpsertMembers обновляет identity на месте: пустые поля ответа не затирают известные.
func (s *Store) UpsertMembers(ms []model.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range ms {
		if m.GID == "" {
			continue
		}
		old, ok := s.members[m.GID]
		if ok {
			if m.DisplayName == "" {
				m.DisplayName = old.DisplayName
			}
			if m.AvatarURL == "" {
				m.AvatarURL = old.AvatarURL
			}
			if m.Location == "" {
				m.Location = old.Location
			}
		}
		s.members[m.GID] = m
	}
}

func (s *Store) UpdateMember(gid string, fn func(*model.Member)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[gid]
	if !ok {
		return false
	}
	fn(&m)
	m.GID = gid
	s.members[gid] = m
	return true
}

func (s *Store) UpdateChannel(id string, fn func(*model.Channel)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[id]
	if !ok {
		return false
	}
	c = c.Clone()
	fn(&c)
	c.ID = id
	s.channels[id] = c
	return true
}

// MarkChannelMembers запоминает, что identity уже разрешены в контексте канала.
func (s *Store) MarkChannelMembers(channelID string, gids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.channelMembers[channelID]
	if !ok {
		set = make(map[string]struct{}, len(gids))
		s.channelMembers[channelID] = set
	}
	for _, g := range gids {
		set[g] = struct{}{}
	}
}

func (s *Store) SetPaginationMeta(key model.PaginationKey, meta model.PaginationMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pagination[key] = meta
}

func (s *Store) SetFolders(fs []model.Folder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders = append([]model.Folder(nil), fs...)
	s.foldersLoaded = true
}

func (s *Store) SetFileToken(channelID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileTokens[channelID] = token
}

// SetSecret записывает секрет канала. Секреты пишутся один раз: повторная запись игнорируется.
func (s *Store) SetSecret(channelID string, secret []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[channelID]; ok {
		return
	}
	s.secrets[channelID] = append([]byte(nil), secret...)
}

func (s *Store) SetFetchState(key model.FetchKey, fetching bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fetching {
		s.fetching[key] = struct{}{}
		return
	}
	delete(s.fetching, key)
}

func (s *Store) TryClaim(key model.FetchKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.fetching[key]; busy {
		return false
	}
	s.fetching[key] = struct{}{}
	return true
}

func (s *Store) Release(key model.FetchKey, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fetching, key)
	if err != nil {
		s.errs[key] = err
		return
	}
	delete(s.errs, key)
}

// AddChannel добавляет канал и увеличивает total его корзины на 1.
// Для уже известного канала — только обновление, total не меняется. Возвращает true, если канал новый.
func (s *Store) AddChannel(c model.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.channels[c.ID]
	s.upsertLocked(c)
	if existed {
		return false
	}
	key := model.BucketFor(c)
	if meta, ok := s.pagination[key]; ok {
		meta.Total++
		s.pagination[key] = meta
	}
	return true
}

// RemoveChannel удаляет канал (выход/исключение) и уменьшает total корзины на 1.
func (s *Store) RemoveChannel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[id]
	if !ok {
		return false
	}
	delete(s.channels, id)
	delete(s.channelMembers, id)
	delete(s.fileTokens, id)
	key := model.BucketFor(c)
	if meta, ok := s.pagination[key]; ok && meta.Total > 0 {
		meta.Total--
		s.pagination[key] = meta
	}
	return true
}

// ApplyCounters сверяет счётчики с кешем одним проходом. Обновляются только известные каналы.
func (s *Store) ApplyCounters(cs []model.Counter) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := 0
	for _, ctr := range cs {
		c, ok := s.channels[ctr.ChannelID]
		if !ok {
			continue
		}
		if c.UnreadCount != ctr.Unread {
			c.UnreadCount = ctr.Unread
			s.channels[ctr.ChannelID] = c
		}
		updated++
	}
	return updated
}
