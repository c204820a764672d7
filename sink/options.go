// SPDX-License-Identifier: Unlicense OR MIT

package sink

import (
	"github.com/luisbg/gst-plugins-bad/gl"
	"github.com/luisbg/gst-plugins-bad/gpu"
	"github.com/luisbg/gst-plugins-bad/navigation"
)

// ClientDrawFunc replaces the default rendering of a frame. It runs on the
// window thread with the frame texture and the video size, and reports
// whether it drew the frame.
type ClientDrawFunc func(ctx *gl.Context, tex gpu.Texture, width, height int) bool

// ClientReshapeFunc replaces the default viewport computation. It runs on
// the window thread and reports whether it handled the new window size.
type ClientReshapeFunc func(ctx *gl.Context, width, height int) bool

// Option configures a Sink.
type Option func(c *config)

type config struct {
	forceAspect  bool
	parN, parD   int
	handleEvents bool
	displayName  string
	clientDraw   ClientDrawFunc
	reshape      ClientReshapeFunc
	nav          navigation.Handler
	context      *gl.Context
	ctxOpts      []gl.Option
	prepareID    func()
}

func defaultConfig() config {
	return config{forceAspect: true, parD: 1, handleEvents: true}
}

// WithForceAspectRatio sets whether the video keeps its display aspect
// ratio inside the window. The default is true.
func WithForceAspectRatio(enable bool) Option {
	return func(c *config) { c.forceAspect = enable }
}

// WithPixelAspectRatio overrides the pixel aspect ratio of the display.
// The default 0/1 means square pixels.
func WithPixelAspectRatio(n, d int) Option {
	return func(c *config) { c.parN, c.parD = n, d }
}

// WithHandleEvents sets whether the window relays input events. The
// default is true.
func WithHandleEvents(enable bool) Option {
	return func(c *config) { c.handleEvents = enable }
}

// WithDisplayName selects the display. The default comes from the
// environment.
func WithDisplayName(name string) Option {
	return func(c *config) { c.displayName = name }
}

// WithClientDraw sets a hook that may draw frames in place of the sink.
func WithClientDraw(f ClientDrawFunc) Option {
	return func(c *config) { c.clientDraw = f }
}

// WithClientReshape sets a hook that may set the viewport on resize.
func WithClientReshape(f ClientReshapeFunc) Option {
	return func(c *config) { c.reshape = f }
}

// WithNavigation sets the receiver of navigation events.
func WithNavigation(h navigation.Handler) Option {
	return func(c *config) { c.nav = h }
}

// WithContext makes the sink render with an existing context instead of
// creating its own. The sink never destroys it.
func WithContext(ctx *gl.Context) Option {
	return func(c *config) { c.context = ctx }
}

// WithContextOptions passes options to the context created by the sink.
func WithContextOptions(opts ...gl.Option) Option {
	return func(c *config) { c.ctxOpts = append(c.ctxOpts, opts...) }
}

// WithPrepareWindowHandle sets a function called when the sink is about
// to create its window and no handle was set. It may call
// SetWindowHandle to embed the video in an application window.
func WithPrepareWindowHandle(f func()) Option {
	return func(c *config) { c.prepareID = f }
}
