// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment variable that overrides configuration.
const EnvPrefix = "KORU_"

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time      TimeConfiguration      `toml:"time"`
	Pipeline  PipelineConfiguration  `toml:"pipeline"`
	Cache     CacheConfiguration     `toml:"cache"`
	Streaming StreamingConfiguration `toml:"streaming"`
	Resources ResourceConfiguration  `toml:"resources"`
	Renderer  RendererConfiguration  `toml:"renderer"`
	Log       LogConfiguration       `toml:"log"`
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int `toml:"frames_per_second"`

	// EventPollDelay is the delay between window event polls.
	EventPollDelay Duration `toml:"event_poll_delay"`
}

// PipelineConfiguration configures the decode workers and the per frame upload drain.
type PipelineConfiguration struct {
	// Workers is the number of background decode workers.
	Workers int `toml:"workers"`

	// UploadBudget caps the number of uploads executed per frame, 0 is unbounded.
	UploadBudget int `toml:"upload_budget"`

	// UploadTimeBudget caps the time spent uploading per frame, 0 is unbounded.
	UploadTimeBudget Duration `toml:"upload_time_budget"`

	// Strict makes threading violations panic instead of being logged and refused.
	Strict bool `toml:"strict"`
}

// CacheConfiguration configures retention of decoded resources.
type CacheConfiguration struct {
	ByteBudget    int64    `toml:"byte_budget"`
	SweepInterval Duration `toml:"sweep_interval"`
}

// StreamingConfiguration configures the audio streaming feeder.
type StreamingConfiguration struct {
	// ChunkFrames is the number of sample frames decoded into one buffer.
	ChunkFrames int `toml:"chunk_frames"`

	// Buffers is the number of buffers kept queued on a streaming source.
	Buffers int `toml:"buffers"`

	PollInterval Duration `toml:"poll_interval"`

	// Threshold is the encoded file size above which a sound is streamed
	// instead of being decoded whole.
	Threshold int64 `toml:"threshold"`
}

// ResourceConfiguration locates the resources to load.
type ResourceConfiguration struct {
	// Root is a directory resources are read from.
	Root string `toml:"root"`

	// Archive is a kar archive resources are read from, takes precedence over Root.
	Archive string `toml:"archive"`

	// Watch enables evicting changed files from the cache.
	Watch bool `toml:"watch"`
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	DeviceExtensions []string `toml:"device_extensions"`
	Layers           []string `toml:"layers"`
	DebugMode        bool     `toml:"debug"`

	ScreenWidth  uint32 `toml:"screen_width"`
	ScreenHeight uint32 `toml:"screen_height"`
}

// LogConfiguration configures the logger built by NewLogger.
type LogConfiguration struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfiguration returns the settings used when nothing overrides them.
func DefaultConfiguration() Configuration {
	return Configuration{
		Time: TimeConfiguration{
			FramesPerSecond: 60,
			EventPollDelay:  Duration(50 * time.Millisecond),
		},
		Pipeline: PipelineConfiguration{
			Workers:          2,
			UploadBudget:     8,
			UploadTimeBudget: Duration(4 * time.Millisecond),
			Strict:           true,
		},
		Cache: CacheConfiguration{
			ByteBudget:    256 << 20,
			SweepInterval: Duration(5 * time.Second),
		},
		Streaming: StreamingConfiguration{
			ChunkFrames:  16384,
			Buffers:      3,
			PollInterval: Duration(100 * time.Millisecond),
			Threshold:    1 << 20,
		},
		Resources: ResourceConfiguration{
			Root: "assets",
		},
		Renderer: RendererConfiguration{
			ScreenWidth:  800,
			ScreenHeight: 600,
		},
		Log: LogConfiguration{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfiguration reads the TOML file at path on top of the defaults and then
// applies environment overrides. An empty path skips the file.
func LoadConfiguration(path string) (Configuration, error) {
	cfg := DefaultConfiguration()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := ApplyEnvironment(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadEnvFiles loads the given dotenv files into the process environment
// so that ApplyEnvironment sees them.
func LoadEnvFiles(files ...string) error {
	if err := godotenv.Load(files...); err != nil {
		return err
	}
	envy.Reload()
	return nil
}

// ApplyEnvironment overrides cfg with KORU_* variables, for example
// KORU_PIPELINE_WORKERS or KORU_CACHE_SWEEP_INTERVAL.
func ApplyEnvironment(cfg *Configuration) error {
	var errs []error
	setInt := func(key string, dst *int) {
		if v := envy.Get(EnvPrefix+key, ""); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	setInt64 := func(key string, dst *int64) {
		if v := envy.Get(EnvPrefix+key, ""); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := envy.Get(EnvPrefix+key, ""); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *Duration) {
		if v := envy.Get(EnvPrefix+key, ""); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := envy.Get(EnvPrefix+key, ""); v != "" {
			*dst = v
		}
	}

	setInt("FRAMES_PER_SECOND", &cfg.Time.FramesPerSecond)
	setInt("PIPELINE_WORKERS", &cfg.Pipeline.Workers)
	setInt("PIPELINE_UPLOAD_BUDGET", &cfg.Pipeline.UploadBudget)
	setDuration("PIPELINE_UPLOAD_TIME_BUDGET", &cfg.Pipeline.UploadTimeBudget)
	setBool("PIPELINE_STRICT", &cfg.Pipeline.Strict)
	setInt64("CACHE_BYTE_BUDGET", &cfg.Cache.ByteBudget)
	setDuration("CACHE_SWEEP_INTERVAL", &cfg.Cache.SweepInterval)
	setInt("STREAMING_CHUNK_FRAMES", &cfg.Streaming.ChunkFrames)
	setInt("STREAMING_BUFFERS", &cfg.Streaming.Buffers)
	setDuration("STREAMING_POLL_INTERVAL", &cfg.Streaming.PollInterval)
	setInt64("STREAMING_THRESHOLD", &cfg.Streaming.Threshold)
	setString("RESOURCES_ROOT", &cfg.Resources.Root)
	setString("RESOURCES_ARCHIVE", &cfg.Resources.Archive)
	setBool("RESOURCES_WATCH", &cfg.Resources.Watch)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("LOG_FORMAT", &cfg.Log.Format)

	return errors.Join(errs...)
}

// Validate reports settings the pipeline cannot run with.
func (c Configuration) Validate() error {
	var errs []error
	if c.Pipeline.Workers < 1 {
		errs = append(errs, errors.New("pipeline.workers must be at least 1"))
	}
	if c.Time.FramesPerSecond < 0 {
		errs = append(errs, errors.New("time.frames_per_second must not be negative"))
	}
	if c.Time.EventPollDelay < 0 {
		errs = append(errs, errors.New("time.event_poll_delay must not be negative"))
	}
	if c.Pipeline.UploadBudget < 0 {
		errs = append(errs, errors.New("pipeline.upload_budget must not be negative"))
	}
	if c.Pipeline.UploadTimeBudget < 0 {
		errs = append(errs, errors.New("pipeline.upload_time_budget must not be negative"))
	}
	if c.Cache.ByteBudget < 0 {
		errs = append(errs, errors.New("cache.byte_budget must not be negative"))
	}
	if c.Cache.SweepInterval < 0 {
		errs = append(errs, errors.New("cache.sweep_interval must not be negative"))
	}
	if c.Streaming.PollInterval <= 0 {
		errs = append(errs, errors.New("streaming.poll_interval must be positive"))
	}
	if c.Streaming.ChunkFrames < 1 {
		errs = append(errs, errors.New("streaming.chunk_frames must be at least 1"))
	}
	if c.Streaming.Buffers < 2 {
		errs = append(errs, errors.New("streaming.buffers must be at least 2"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Duration is a time.Duration that reads and writes as "250ms" in config files.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}
