// SPDX-License-Identifier: Unlicense OR MIT

package video

import (
	"image"
	"math"
)

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// CalculateDisplayRatio returns the reduced display aspect ratio of a
// video of size width×height with pixel aspect ratio parN/parD, shown on
// a display with pixel aspect ratio dispParN/dispParD. It reports false
// on invalid input or overflow.
func CalculateDisplayRatio(width, height, parN, parD, dispParN, dispParD int) (num, den int, ok bool) {
	if width < 1 || height < 1 || parN < 1 || parD < 1 || dispParN < 1 || dispParD < 1 {
		return 0, 0, false
	}
	n := uint64(width) * uint64(parN) * uint64(dispParD)
	d := uint64(height) * uint64(parD) * uint64(dispParN)
	g := gcd(n, d)
	n, d = n/g, d/g
	if n > math.MaxInt32 || d > math.MaxInt32 {
		return 0, 0, false
	}
	return int(n), int(d), true
}

// DisplaySize returns the size at which info is shown on a display with
// the given pixel aspect ratio. A zero dispParN or dispParD means 1/1.
// The height is kept when it divides evenly, then the width; otherwise
// the width is approximated from the height.
func DisplaySize(info Info, dispParN, dispParD int) (image.Point, bool) {
	parN, parD := info.ParN, info.ParD
	if parN == 0 {
		parN = 1
	}
	if parD == 0 {
		parD = 1
	}
	if dispParN == 0 || dispParD == 0 {
		dispParN, dispParD = 1, 1
	}
	num, den, ok := CalculateDisplayRatio(info.Width, info.Height, parN, parD, dispParN, dispParD)
	if !ok {
		return image.Point{}, false
	}
	w, h := info.Width, info.Height
	switch {
	case h%den == 0:
		return image.Pt(scaleInt(h, num, den), h), true
	case w%num == 0:
		return image.Pt(w, scaleInt(w, den, num)), true
	default:
		return image.Pt(scaleInt(h, num, den), h), true
	}
}

func scaleInt(v, num, den int) int {
	return int(uint64(v) * uint64(num) / uint64(den))
}

// CenterRect places src inside dst. With scale, src is resized to fit dst
// preserving its aspect ratio; otherwise it is clipped to dst. The
// result is centered in dst.
func CenterRect(src, dst image.Rectangle, scale bool) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	dw, dh := dst.Dx(), dst.Dy()
	if !scale || sw == 0 || sh == 0 || dh == 0 {
		w, h := min(sw, dw), min(sh, dh)
		x := dst.Min.X + (dw-w)/2
		y := dst.Min.Y + (dh-h)/2
		return image.Rect(x, y, x+w, y+h)
	}
	srcRatio := float64(sw) / float64(sh)
	dstRatio := float64(dw) / float64(dh)
	switch {
	case srcRatio > dstRatio:
		h := int(float64(dw) / srcRatio)
		y := dst.Min.Y + (dh-h)/2
		return image.Rect(dst.Min.X, y, dst.Max.X, y+h)
	case srcRatio < dstRatio:
		w := int(float64(dh) * srcRatio)
		x := dst.Min.X + (dw-w)/2
		return image.Rect(x, dst.Min.Y, x+w, dst.Max.Y)
	default:
		return dst
	}
}
