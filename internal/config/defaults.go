package config

const (
	defaultConfigPath         = "~/.config/shadowcam/config.toml"
	defaultAPIBaseURL         = "http://localhost:8000"
	defaultAPIRequestTimeout  = 130
	defaultMaxImageBytes      = 5 << 20
	defaultMaxVideoBytes      = 25 << 20
	defaultTokenPath          = "~/.config/shadowcam/token.json"
	defaultCameraDevice       = "/dev/video0"
	defaultCameraWidth        = 1280
	defaultCameraHeight       = 720
	defaultCameraFramerate    = 15
	defaultCameraInputFormat  = "mjpeg"
	defaultAudioDevice        = "default"
	defaultFFmpegBinary       = "ffmpeg"
	defaultCameraStartTimeout = 10
	defaultLiveIntervalMS     = 3000
	defaultLiveFrameWidth     = 400
	defaultLiveFrameHeight    = 300
	defaultLiveJPEGQuality    = 50
	defaultLiveDegradedAfter  = 5
	defaultRecordingMaxSecs   = 60
	defaultRecordingCodec     = "vp8"
	defaultHistoryPath        = "~/.local/share/shadowcam/history.db"
	defaultServerBind         = "127.0.0.1:7600"
	defaultSnapshotIntervalMS = 5000
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		API: API{
			BaseURL:        defaultAPIBaseURL,
			RequestTimeout: defaultAPIRequestTimeout,
			MaxImageBytes:  defaultMaxImageBytes,
			MaxVideoBytes:  defaultMaxVideoBytes,
		},
		Auth: Auth{
			TokenPath: defaultTokenPath,
			Watch:     true,
		},
		Camera: Camera{
			Device:       defaultCameraDevice,
			Width:        defaultCameraWidth,
			Height:       defaultCameraHeight,
			Framerate:    defaultCameraFramerate,
			InputFormat:  defaultCameraInputFormat,
			AudioEnabled: false,
			AudioDevice:  defaultAudioDevice,
			LockDir:      defaultStateDir(),
			Hotplug:      true,
			FFmpegBinary: defaultFFmpegBinary,
			StartTimeout: defaultCameraStartTimeout,
		},
		Live: Live{
			IntervalMS:    defaultLiveIntervalMS,
			FrameWidth:    defaultLiveFrameWidth,
			FrameHeight:   defaultLiveFrameHeight,
			JPEGQuality:   defaultLiveJPEGQuality,
			DegradedAfter: defaultLiveDegradedAfter,
		},
		Recording: Recording{
			MaxSeconds: defaultRecordingMaxSecs,
			Codec:      defaultRecordingCodec,
		},
		History: History{
			Enabled: false,
			Path:    defaultHistoryPath,
		},
		Server: Server{
			Bind:               defaultServerBind,
			SnapshotIntervalMS: defaultSnapshotIntervalMS,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
