// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build windows

package core

import "golang.org/x/sys/windows"

func currentThread() ThreadID {
	return ThreadID(windows.GetCurrentThreadId())
}
