package settings

// Settings is the whole persisted record. It is read and written as a
// single snapshot; concurrent writers race and the last write wins.
type Settings struct {
	RootPath            string `json:"rootPath"`
	Autoplay            bool   `json:"autoplay"`
	CurrentPlaylistPath string `json:"currentPlaylistPath,omitempty"`
	Last                *Last  `json:"last,omitempty"`
	Sleep               *Sleep `json:"sleep,omitempty"`
}

// Last is the sole authority for cross-session resume.
type Last struct {
	PlaylistPath string  `json:"playlistPath"`
	Index        int     `json:"index"`
	TrackURL     string  `json:"trackUrl"`
	Time         float64 `json:"time"`
}

type Sleep struct {
	Target      int64 `json:"target,omitempty"` // epoch milliseconds
	LastMinutes int   `json:"lastMinutes,omitempty"`
}

func Defaults() Settings {
	return Settings{
		RootPath:            "/music/",
		Autoplay:            false,
		CurrentPlaylistPath: "",
		Last:                nil,
		Sleep:               nil,
	}
}
