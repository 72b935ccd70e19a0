//go:build windows

package main

import "os"

// Windows 仅支持 Ctrl-C 中断。
var shutdownSignals = []os.Signal{os.Interrupt}
