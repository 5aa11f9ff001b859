// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config holds the per-channel PlayoutConfig struct (spec §3) and a
// small env-var loader in the teacher's layered-precedence style. File-format
// (TOML/YAML) import/export is out of scope; callers construct PlayoutConfig
// from Go or from environment variables only.
package config

import "time"

// ProcessingMode selects how the SourceIterator produces clips.
type ProcessingMode string

const (
	ModeFolder   ProcessingMode = "folder"
	ModePlaylist ProcessingMode = "playlist"
)

// OutputMode selects how ProcessSupervisor wires the encoder.
type OutputMode string

const (
	OutputHLS     OutputMode = "hls"
	OutputStream  OutputMode = "stream"
	OutputDesktop OutputMode = "desktop"
	OutputNull    OutputMode = "null"
)

// GeneralConfig holds channel identity and global playback knobs.
type GeneralConfig struct {
	ChannelID      string
	StopThreshold  float64 // seconds; see GLOSSARY "Stop threshold"
	Generate       []string
	SkipValidation bool
}

// PlaylistConfig holds the daily scheduling window.
type PlaylistConfig struct {
	DayStart string // "HH:MM:SS"
	Length   string // "HH:MM:SS", or "" for a 24h day
	Infinit  bool
	Timezone string

	// Derived at load time by Resolve(); not set by callers directly.
	StartSec   float64
	LengthSec  float64
	resolved   bool
}

// ProcessingConfig holds filter/transcode knobs consumed by FilterBuilder.
type ProcessingConfig struct {
	Mode            ProcessingMode
	Width           int
	Height          int
	Aspect          float64
	FPS             float64
	AddLogo         bool
	Logo            string
	LogoScale       string
	LogoOpacity     float64
	LogoPosition    string
	AudioTracks     int
	AudioTrackIndex int // -1 = all tracks
	AudioChannels   int
	Volume          float64
	CustomFilter    string
	OverrideFilter  string
	VTTEnable       bool
	CopyAudio       bool
	CopyVideo       bool
	AudioOnly       bool
}

// IngestConfig holds live-ingest takeover settings.
type IngestConfig struct {
	Enable       bool
	InputParam   string
	CustomFilter string
	ListenURL    string
	ValidStream  []string // whitelisted RTMP app names
}

// TextConfig holds drawtext / TextOverlayControl settings.
type TextConfig struct {
	AddText          bool
	TextFromFilename bool
	Font             string
	Style            string
	Regex            string
	ZmqStreamSocket  string
	ZmqServerSocket  string
}

// StorageBackend names where SourceIterator reads clip sources from.
type StorageBackend string

const (
	StorageLocal  StorageBackend = "local"
	StorageObject StorageBackend = "object"
)

// StorageConfig holds FolderSource and filler-policy settings.
type StorageConfig struct {
	Backend    StorageBackend
	Paths      []string
	Filler     string // directory or single file
	Extensions []string
	Shuffle    bool
}

// OutputConfig holds ProcessSupervisor's muxer wiring.
type OutputConfig struct {
	Mode         OutputMode
	OutputCount  int
	OutputParam  []string
	OutputCmd    string
	OutputFilter string
	HLSPath      string // directory the muxer writes segments/playlist into
}

// TaskConfig holds the optional per-clip external task runner.
type TaskConfig struct {
	Enable bool
	Path   string
}

// AdvancedConfig holds per-filter string templates that override the
// builder's defaults; "{}" placeholders are filled positionally.
type AdvancedConfig struct {
	Templates map[string]string
	Decoder   map[string]string // input/output parameter overrides, decoder role
	Encoder   map[string]string
	Ingest    map[string]string
}

// MailConfig holds MailQueue's drain target and filtering.
type MailConfig struct {
	Recipient   string
	LevelFilter string // "info", "warning", "error" or "fatal"; any other value disables filtering
	Interval    time.Duration
}

// PlayoutConfig is the complete per-channel configuration (spec §3).
type PlayoutConfig struct {
	General    GeneralConfig
	Playlist   PlaylistConfig
	Processing ProcessingConfig
	Ingest     IngestConfig
	Text       TextConfig
	Storage    StorageConfig
	Output     OutputConfig
	Task       TaskConfig
	Advanced   AdvancedConfig
	Mail       MailConfig

	LogBackupCount int
	FillerMinLen   float64 // DUMMY_LEN equivalent floor, seconds
}
