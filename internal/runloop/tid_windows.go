// SPDX-License-Identifier: Unlicense OR MIT

package runloop

import "golang.org/x/sys/windows"

func threadID() int {
	return int(windows.GetCurrentThreadId())
}
