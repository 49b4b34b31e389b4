package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/ivlev/panel2anime/internal/effects"
)

const (
	// CanvasWidth and CanvasHeight are the fixed drawing surface resolution.
	CanvasWidth  = 1280
	CanvasHeight = 720

	// CaptureFPS is the rate at which the surface is tapped into the encoder.
	CaptureFPS = 30

	// ArtifactName is the download name of an exported render.
	ArtifactName = "manga-anime-agent.webm"
	ArtifactMIME = "video/webm"
)

type Config struct {
	ProjectPath string `env:"PANEL2ANIME_PROJECT"`
	OutputDir   string `env:"PANEL2ANIME_OUTPUT_DIR"`
	Width       int    `env:"PANEL2ANIME_WIDTH"`
	Height      int    `env:"PANEL2ANIME_HEIGHT"`
	FPS         int    `env:"PANEL2ANIME_FPS"`
	TickRate    int    `env:"PANEL2ANIME_TICK_RATE"`
	Workers     int    `env:"PANEL2ANIME_WORKERS"`
	DPI         int    `env:"PANEL2ANIME_DPI"`
	ZoomMode    string `env:"PANEL2ANIME_ZOOM_MODE"`

	// StopMargin is added to the timeline duration for the capture fallback timer.
	StopMargin time.Duration `env:"PANEL2ANIME_STOP_MARGIN"`

	VideoEncoder string `env:"PANEL2ANIME_VIDEO_ENCODER"`
	Quality      int    `env:"PANEL2ANIME_QUALITY"`
	FFmpegPath   string `env:"PANEL2ANIME_FFMPEG"`
	FFprobePath  string `env:"PANEL2ANIME_FFPROBE"`

	ListenAddr   string `env:"PANEL2ANIME_LISTEN"`
	ShowStats    bool   `env:"PANEL2ANIME_STATS"`
	BuildVersion string
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		OutputDir:    "output",
		Width:        CanvasWidth,
		Height:       CanvasHeight,
		FPS:          CaptureFPS,
		TickRate:     60,
		Workers:      runtime.NumCPU(),
		DPI:          150,
		ZoomMode:     "center",
		StopMargin:   600 * time.Millisecond,
		VideoEncoder: "libvpx-vp9",
		Quality:      32,
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
		ListenAddr:   ":8090",
		BuildVersion: "dev",
	}
}

// LoadEnv applies an optional .env file and PANEL2ANIME_* variables on top of cfg.
// Variables that are not set leave the existing values untouched.
func LoadEnv(cfg *Config, files ...string) error {
	// .env is optional
	_ = godotenv.Load(files...)

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return cfg.Validate()
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid surface size %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("invalid capture fps %d", c.FPS)
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("invalid tick rate %d", c.TickRate)
	}
	if c.StopMargin < 0 {
		return fmt.Errorf("negative stop margin %s", c.StopMargin)
	}
	if !effects.ValidMode(c.ZoomMode) {
		return fmt.Errorf("unknown zoom mode %q (%s, random)", c.ZoomMode, strings.Join(effects.Modes, ", "))
	}
	return nil
}

// FrameInterval is the capture tap period.
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FPS)
}

// TickInterval is the period of the internal render loop.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}
