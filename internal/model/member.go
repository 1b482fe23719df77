package model

// Member — проекция identity. Общая для всех каналов, ищется по gid.
type Member struct {
	GID         string `json:"gid_uuid"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Location    string `json:"location,omitempty"`
}

// Name возвращает отображаемое имя или gid, если имя не задано.
func (m Member) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.GID
}
