package config

var Version string

// Downloader / media tool binary names, overridable in tests
var (
	FFmpegPath  = "ffmpeg"
	FFprobePath = "ffprobe"
	Aria2Path   = "aria2c"
	YtDlpPath   = "yt-dlp"
)
