// SPDX-License-Identifier: Unlicense OR MIT

package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/luisbg/gst-plugins-bad/testsrc"
	"github.com/luisbg/gst-plugins-bad/window"
)

// config holds the demo settings. It is read from an optional TOML file;
// command line flags take precedence.
type config struct {
	Pattern      string `toml:"pattern"`
	Frames       int    `toml:"frames"`
	Width        int    `toml:"width"`
	Height       int    `toml:"height"`
	FPS          int    `toml:"fps"`
	Aspect       bool   `toml:"aspect"`
	SystemMemory bool   `toml:"system_memory"`
	Backend      string `toml:"backend"`
	Window       string `toml:"window"`
	Output       string `toml:"output"`
	Log          string `toml:"log"`
}

func defaultConfig() config {
	return config{
		Pattern: "smpte",
		Frames:  30,
		Width:   testsrc.DefaultWidth,
		Height:  testsrc.DefaultHeight,
		FPS:     testsrc.DefaultFPSN,
		Aspect:  true,
		Log:     "info",
	}
}

func (c *config) register(fs *flag.FlagSet) {
	fs.StringVar(&c.Pattern, "pattern", c.Pattern, "test pattern: "+strings.Join(testsrc.PatternNames(), ", "))
	fs.IntVar(&c.Frames, "frames", c.Frames, "number of frames to render, 0 for no limit")
	fs.IntVar(&c.Width, "width", c.Width, "frame width")
	fs.IntVar(&c.Height, "height", c.Height, "frame height")
	fs.IntVar(&c.FPS, "fps", c.FPS, "frame rate, 0 for a single frame")
	fs.BoolVar(&c.Aspect, "aspect", c.Aspect, "keep the display aspect ratio")
	fs.BoolVar(&c.SystemMemory, "sysmem", c.SystemMemory, "download frames to system memory before display")
	fs.StringVar(&c.Backend, "backend", c.Backend, "window backend, default from "+window.EnvBackend)
	fs.StringVar(&c.Window, "window", c.Window, "window size WxH, default the frame size")
	fs.StringVar(&c.Output, "o", c.Output, "write the last displayed surface to this PNG file")
	fs.StringVar(&c.Log, "log", c.Log, "log level (debug, info, warn, error)")
}

// parseConfig parses args. Values from the file named by -config are
// applied before the flags, so explicit flags win.
func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	cfg := defaultConfig()
	var path string
	fs.StringVar(&path, "config", "", "TOML configuration file")
	cfg.register(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if path == "" {
		return cfg, nil
	}
	fromFile := defaultConfig()
	md, err := toml.DecodeFile(path, &fromFile)
	if err != nil {
		return cfg, fmt.Errorf("config %s: %v", path, err)
	}
	if keys := md.Undecoded(); len(keys) > 0 {
		return cfg, fmt.Errorf("config %s: unknown keys %v", path, keys)
	}
	cfg = fromFile
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// windowSize parses the WxH window size. An empty string means no
// preference.
func (c *config) windowSize() (width, height int, err error) {
	if c.Window == "" {
		return 0, 0, nil
	}
	if _, err := fmt.Sscanf(c.Window, "%dx%d", &width, &height); err != nil || width < 1 || height < 1 {
		return 0, 0, fmt.Errorf("invalid window size %q", c.Window)
	}
	return width, height, nil
}
