// SPDX-License-Identifier: Unlicense OR MIT

// Command glsink-demo renders test pattern frames through the video sink
// and optionally saves the last displayed surface as a PNG image.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/luisbg/gst-plugins-bad/gl"
	"github.com/luisbg/gst-plugins-bad/gpu"
	"github.com/luisbg/gst-plugins-bad/internal/log"
	"github.com/luisbg/gst-plugins-bad/sink"
	"github.com/luisbg/gst-plugins-bad/testsrc"
	"github.com/luisbg/gst-plugins-bad/video"
	"github.com/luisbg/gst-plugins-bad/window"
)

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err == nil {
		err = mainErr(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "glsink-demo: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func mainErr(cfg config) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log)); err != nil {
		return err
	}
	log.SetLogger(newLogger(level))

	p, err := testsrc.ParsePattern(cfg.Pattern)
	if err != nil {
		return err
	}
	winOpts := []window.Option{window.WithBackend(cfg.Backend)}
	w, h, err := cfg.windowSize()
	if err != nil {
		return err
	}
	if w > 0 {
		winOpts = append(winOpts, window.WithSize(w, h))
	}
	ctx, err := gl.NewContext(gl.NewDisplay(""), gl.WithWindowOptions(winOpts...))
	if err != nil {
		return err
	}
	defer ctx.Destroy()

	src := testsrc.New(testsrc.WithPattern(p), testsrc.WithContext(ctx), testsrc.WithSystemMemory(cfg.SystemMemory))
	snk := sink.New(sink.WithContext(ctx), sink.WithForceAspectRatio(cfg.Aspect))
	defer src.Stop()
	defer snk.Stop()

	info := video.NewInfo(video.FormatRGBA, cfg.Width, cfg.Height)
	info.FPSN = cfg.FPS
	if err := src.Start(); err != nil {
		return err
	}
	if err := src.SetCaps(info); err != nil {
		return err
	}
	snk.Start()
	if err := snk.SetCaps(src.Info()); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	n, err := run(sigCtx, src, snk, cfg.Frames)
	if err != nil {
		return err
	}
	log.For("demo").Info("done", "frames", n, "pattern", p)
	if cfg.Output != "" {
		return saveSurface(ctx, cfg.Output)
	}
	return nil
}

// run pushes up to limit frames from src to snk, stopping early at the
// end of the stream or when ctx is cancelled. A zero limit means no limit.
func run(ctx context.Context, src *testsrc.Src, snk *sink.Sink, limit int) (int, error) {
	g, ctx := errgroup.WithContext(ctx)
	queue := make(chan *video.Buffer, 2)
	g.Go(func() error {
		defer close(queue)
		for i := 0; limit == 0 || i < limit; i++ {
			buf, err := src.Fill()
			if video.FlowOf(err) == video.FlowEOS {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case queue <- buf:
			case <-ctx.Done():
				buf.Unref()
				return ctx.Err()
			}
		}
		return nil
	})
	shown := 0
	g.Go(func() error {
		for buf := range queue {
			err := snk.Prepare(buf)
			if err == nil {
				err = snk.ShowFrame(buf)
			}
			buf.Unref()
			if err != nil {
				return err
			}
			shown++
		}
		return nil
	})
	err := g.Wait()
	for buf := range queue {
		buf.Unref()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, sink.ErrWindowClosed) {
		err = nil
	}
	return shown, err
}

func saveSurface(ctx *gl.Context, path string) error {
	var (
		img *image.RGBA
		err error
	)
	if terr := ctx.ThreadAdd(func(dev gpu.Device) {
		img, err = dev.ReadPixels(nil, image.Rectangle{Max: dev.Surface()})
	}); terr != nil {
		return terr
	}
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
