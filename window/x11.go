// SPDX-License-Identifier: Unlicense OR MIT

//go:build (linux && !android) || freebsd || openbsd
// +build linux,!android freebsd openbsd

package window

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/icccm"

	"github.com/luisbg/gst-plugins-bad/internal/log"
	"github.com/luisbg/gst-plugins-bad/internal/runloop"
	"github.com/luisbg/gst-plugins-bad/navigation"
)

// X11Backend is the backend name of X11 windows.
const X11Backend = "x11"

const (
	// PutImage requests are limited to 2^16 words without BIG-REQUESTS.
	putImageMax   = (1 << 16) * 4
	putImageFixed = 28

	eventMaskBase = xproto.EventMaskExposure | xproto.EventMaskStructureNotify
	eventMaskNav  = xproto.EventMaskKeyPress | xproto.EventMaskKeyRelease |
		xproto.EventMaskButtonPress | xproto.EventMaskButtonRelease |
		xproto.EventMaskPointerMotion
)

func init() {
	Register(X11Backend, newX11)
}

type x11Window struct {
	cb   Callbacks
	xu   *xgbutil.XUtil
	xc   *xgb.Conn
	xsi  *xproto.ScreenInfo
	loop *runloop.Loop
	done chan struct{}

	win              xproto.Window
	gc               xproto.Gcontext
	atomWMProtocols  xproto.Atom
	atomDeleteWindow xproto.Atom
	keysyms          []xproto.Keysym
	keysymsPerCode   int

	events atomic.Bool

	mu            sync.Mutex
	width, height int
	mapped        bool
	parent        uintptr
	prefW, prefH  int
	pix           []byte
}

// newX11 connects to the display named by $DISPLAY.
func newX11(cb Callbacks) (Driver, error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("x11: %v", err)
	}
	w := &x11Window{
		cb:     cb,
		xu:     xu,
		xc:     xu.Conn(),
		xsi:    xu.Screen(),
		done:   make(chan struct{}),
		width:  320,
		height: 240,
		prefW:  320,
		prefH:  240,
	}
	w.events.Store(true)
	return w, nil
}

func (w *x11Window) internAtom(name string) (xproto.Atom, error) {
	r, err := xproto.InternAtom(w.xc, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("x11: InternAtom %s: %v", name, err)
	}
	return r.Atom, nil
}

func (w *x11Window) Open() error {
	l, err := runloop.New()
	if err != nil {
		return err
	}
	if err := w.create(); err != nil {
		l.Close()
		return err
	}
	w.loop = l
	go w.readEvents()
	return nil
}

func (w *x11Window) create() error {
	var err error
	if w.atomWMProtocols, err = w.internAtom("WM_PROTOCOLS"); err != nil {
		return err
	}
	if w.atomDeleteWindow, err = w.internAtom("WM_DELETE_WINDOW"); err != nil {
		return err
	}
	if err := w.initKeyboardMapping(); err != nil {
		return err
	}
	if w.win, err = xproto.NewWindowId(w.xc); err != nil {
		return fmt.Errorf("x11: NewWindowId: %v", err)
	}
	if w.gc, err = xproto.NewGcontextId(w.xc); err != nil {
		return fmt.Errorf("x11: NewGcontextId: %v", err)
	}
	w.mu.Lock()
	width, height := w.prefW, w.prefH
	w.mu.Unlock()
	err = xproto.CreateWindowChecked(w.xc, w.xsi.RootDepth, w.win, w.xsi.Root,
		0, 0, uint16(width), uint16(height), 0,
		xproto.WindowClassInputOutput, w.xsi.RootVisual,
		xproto.CwBackPixel|xproto.CwEventMask,
		[]uint32{w.xsi.BlackPixel, w.eventMask()},
	).Check()
	if err != nil {
		return fmt.Errorf("x11: CreateWindow: %v", err)
	}
	if err := icccm.WmProtocolsSet(w.xu, w.win, []string{"WM_DELETE_WINDOW"}); err != nil {
		log.For("window").Warn("x11: WM_PROTOCOLS", "err", err)
	}
	icccm.WmNameSet(w.xu, w.win, "video output")
	xproto.CreateGC(w.xc, w.gc, xproto.Drawable(w.win), 0, nil)
	w.mu.Lock()
	w.width, w.height = width, height
	parent := w.parent
	w.mu.Unlock()
	if parent != 0 {
		w.reparent(parent)
	}
	return nil
}

func (w *x11Window) initKeyboardMapping() error {
	const keyLo, keyHi = 8, 255
	km, err := xproto.GetKeyboardMapping(w.xc, keyLo, keyHi-keyLo+1).Reply()
	if err != nil {
		return fmt.Errorf("x11: GetKeyboardMapping: %v", err)
	}
	if km.KeysymsPerKeycode < 1 {
		return fmt.Errorf("x11: no keysyms per keycode")
	}
	w.keysyms, w.keysymsPerCode = km.Keysyms, int(km.KeysymsPerKeycode)
	return nil
}

func (w *x11Window) eventMask() uint32 {
	if w.events.Load() {
		return eventMaskBase | eventMaskNav
	}
	return eventMaskBase
}

// readEvents translates X events until the connection closes.
func (w *x11Window) readEvents() {
	defer close(w.done)
	for {
		ev, err := w.xc.WaitForEvent()
		if ev == nil && err == nil {
			return
		}
		if err != nil {
			log.For("window").Debug("x11: event error", "err", err)
			continue
		}
		switch ev := ev.(type) {
		case xproto.ConfigureNotifyEvent:
			width, height := int(ev.Width), int(ev.Height)
			w.mu.Lock()
			changed := width != w.width || height != w.height
			w.width, w.height = width, height
			w.mu.Unlock()
			if changed {
				w.loop.Invoke(func() { w.cb.Resize(width, height) }, nil)
			}
		case xproto.ExposeEvent:
			// Only the last of a series of exposures triggers a redraw.
			if ev.Count == 0 {
				w.loop.Invoke(w.cb.Draw, nil)
			}
		case xproto.ClientMessageEvent:
			if ev.Type == w.atomWMProtocols && ev.Format == 32 && xproto.Atom(ev.Data.Data32[0]) == w.atomDeleteWindow {
				w.loop.Invoke(w.cb.CloseRequested, nil)
			}
		case xproto.KeyPressEvent:
			w.key(navigation.Press, ev.Detail, ev.State)
		case xproto.KeyReleaseEvent:
			w.key(navigation.Release, ev.Detail, ev.State)
		case xproto.ButtonPressEvent:
			w.mouse(navigation.ButtonPress, int(ev.Detail), ev.EventX, ev.EventY)
		case xproto.ButtonReleaseEvent:
			w.mouse(navigation.ButtonRelease, int(ev.Detail), ev.EventX, ev.EventY)
		case xproto.MotionNotifyEvent:
			w.mouse(navigation.Move, 0, ev.EventX, ev.EventY)
		case xproto.MappingNotifyEvent:
			if ev.Request == xproto.MappingKeyboard {
				if err := w.initKeyboardMapping(); err != nil {
					log.For("window").Warn("x11: keyboard mapping", "err", err)
				}
			}
		}
	}
}

func (w *x11Window) key(state navigation.KeyState, code xproto.Keycode, mods uint16) {
	if !w.events.Load() {
		return
	}
	col := 0
	if mods&xproto.ModMaskShift != 0 && w.keysymsPerCode > 1 {
		col = 1
	}
	i := (int(code)-8)*w.keysymsPerCode + col
	if i < 0 || i >= len(w.keysyms) {
		return
	}
	name := keysymName(w.keysyms[i])
	if name == "" {
		return
	}
	w.cb.Key(navigation.KeyEvent{State: state, Key: name})
}

func (w *x11Window) mouse(kind navigation.MouseKind, button int, x, y int16) {
	if !w.events.Load() {
		return
	}
	w.cb.Mouse(navigation.MouseEvent{Kind: kind, Button: button, X: float64(x), Y: float64(y)})
}

var keysymNames = map[xproto.Keysym]string{
	0x0020: "space",
	0xff08: "BackSpace",
	0xff09: "Tab",
	0xff0d: "Return",
	0xff1b: "Escape",
	0xff50: "Home",
	0xff51: "Left",
	0xff52: "Up",
	0xff53: "Right",
	0xff54: "Down",
	0xff55: "Page_Up",
	0xff56: "Page_Down",
	0xff57: "End",
	0xffff: "Delete",
}

// keysymName returns the X keysym name of k, for the keys in common use.
func keysymName(k xproto.Keysym) string {
	if n, ok := keysymNames[k]; ok {
		return n
	}
	switch {
	case k > 0x20 && k < 0x7f:
		return string(rune(k))
	case k >= 0xffbe && k <= 0xffc9:
		return fmt.Sprintf("F%d", k-0xffbe+1)
	}
	return ""
}

func (w *x11Window) Close() error {
	if w.loop != nil {
		xproto.DestroyWindow(w.xc, w.win)
	}
	w.xc.Close()
	if w.loop == nil {
		return nil
	}
	<-w.done
	return w.loop.Close()
}

func (w *x11Window) Run() error {
	if w.loop == nil {
		return ErrState
	}
	return w.loop.Run()
}

func (w *x11Window) Quit() {
	if w.loop != nil {
		w.loop.Quit()
	}
}

func (w *x11Window) Send(f func()) bool {
	if w.loop == nil {
		return false
	}
	return w.loop.InvokeSync(f)
}

func (w *x11Window) SendAsync(f func(), destroy func()) {
	if w.loop == nil {
		if destroy != nil {
			destroy()
		}
		return
	}
	w.loop.Invoke(f, destroy)
}

func (w *x11Window) IsLoopThread() bool {
	return w.loop != nil && w.loop.IsOwner()
}

// Draw maps the window at its preferred size on the first frame.
func (w *x11Window) Draw() {
	w.Send(func() {
		w.show()
		w.cb.Draw()
	})
}

func (w *x11Window) show() {
	w.mu.Lock()
	if w.mapped {
		w.mu.Unlock()
		return
	}
	w.mapped = true
	width, height, parent := w.prefW, w.prefH, w.parent
	w.mu.Unlock()
	if parent == 0 {
		xproto.ConfigureWindow(w.xc, w.win, xproto.ConfigWindowWidth|xproto.ConfigWindowHeight,
			[]uint32{uint32(width), uint32(height)})
	}
	xproto.MapWindow(w.xc, w.win)
}

func (w *x11Window) reparent(handle uintptr) {
	xproto.ReparentWindow(w.xc, w.win, xproto.Window(handle), 0, 0)
}

// SetWindowHandle embeds the window into the X window handle.
func (w *x11Window) SetWindowHandle(handle uintptr) {
	w.mu.Lock()
	w.parent = handle
	created := w.loop != nil
	w.mu.Unlock()
	if created && handle != 0 {
		w.reparent(handle)
	}
}

func (w *x11Window) SetPreferredSize(width, height int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prefW, w.prefH = width, height
}

func (w *x11Window) SurfaceDimensions() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width, w.height
}

func (w *x11Window) HandleEvents(enable bool) {
	w.events.Store(enable)
	if w.loop != nil {
		xproto.ChangeWindowAttributes(w.xc, w.win, xproto.CwEventMask, []uint32{w.eventMask()})
	}
}

// PresentImage copies img to the window. It runs on the loop thread.
func (w *x11Window) PresentImage(img *image.RGBA) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width == 0 || height == 0 {
		return
	}
	stride := width * 4
	rows := (putImageMax - putImageFixed) / stride
	if rows < 1 {
		return
	}
	if n := stride * height; cap(w.pix) < n {
		w.pix = make([]byte, n)
	} else {
		w.pix = w.pix[:n]
	}
	// ZPixmap data is BGRX on little-endian 24-bit visuals.
	for y := 0; y < height; y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := w.pix[y*stride:]
		for x := 0; x < stride; x += 4 {
			dst[x], dst[x+1], dst[x+2], dst[x+3] = src[x+2], src[x+1], src[x], 0xff
		}
	}
	for y := 0; y < height; y += rows {
		n := rows
		if y+n > height {
			n = height - y
		}
		xproto.PutImage(w.xc, xproto.ImageFormatZPixmap, xproto.Drawable(w.win), w.gc,
			uint16(width), uint16(n), 0, int16(y), 0, w.xsi.RootDepth,
			w.pix[y*stride:(y+n)*stride])
	}
}
