package subtitle

// Reader is the interface for reading subtitle files
type Reader interface {
	Read(path string) (*File, error)
}

// Cue is one subtitle entry. Timestamps are kept as written in the file so
// callers decide how to treat malformed values.
type Cue struct {
	Ordinal   int    `json:"id"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Text      string `json:"text"`
}

// File represents subtitle file
type File struct {
	Path     string
	Cues     []Cue
	Language string // ISO 639-1, "" when unknown
	Format   string // e.g. SRT
}

// Description describes a subtitle stream embedded in a media container.
type Description struct {
	Index    int
	Language string // raw container tag, "und" when missing
	Default  bool
}

type Descriptions []Description
