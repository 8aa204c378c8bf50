// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build !linux && !windows

package core

import (
	"bytes"
	"runtime"
	"strconv"
)

// Without a portable thread id the goroutine id stands in, which is
// equivalent for the locked owner goroutine.
func currentThread() ThreadID {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i > 0 {
		buf = buf[:i]
	}
	id, _ := strconv.ParseInt(string(buf), 10, 64)
	return ThreadID(id)
}
