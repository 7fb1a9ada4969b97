package library

// Video is one input file discovered under the source directory.
type Video struct {
	Path string `json:"path"`
	Dir  string `json:"dir"`
	// Base is the file name with the matched video extension removed.
	Base string `json:"base"`
}

type SubtitleSource string

const (
	SourceExact    SubtitleSource = "exact"
	SourceLanguage SubtitleSource = "language"
	SourceEmbedded SubtitleSource = "embedded"
)

// Subtitle is the cue file chosen for a video.
type Subtitle struct {
	Path     string `json:"path"`
	Language string `json:"language,omitempty"`
	// Detected is set when Language was guessed from the cue text rather
	// than taken from a file name or container tag.
	Detected bool           `json:"detected,omitempty"`
	Source   SubtitleSource `json:"source"`
	// Temporary is set for files extracted from the container; the caller
	// owns them and may remove them when done.
	Temporary bool `json:"temporary,omitempty"`
}
