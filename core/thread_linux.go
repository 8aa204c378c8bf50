// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build linux

package core

import "golang.org/x/sys/unix"

func currentThread() ThreadID {
	return ThreadID(unix.Gettid())
}
