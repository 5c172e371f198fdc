// Package logging wraps glog the way aistore's ais/* packages use its
// vendored 3rdparty/glog: leveled, printf-style logging gated by -v.

package logging

import (
	"github.com/golang/glog"
)

// Level is a verbosity level, checked with V(n) before expensive formatting.
type Level = glog.Level

func Infof(format string, args ...interface{})    { glog.Infof(format, args...) }
func Warningf(format string, args ...interface{}) { glog.Warningf(format, args...) }
func Errorf(format string, args ...interface{})   { glog.Errorf(format, args...) }
func Info(args ...interface{})                    { glog.Info(args...) }
func Warning(args ...interface{})                 { glog.Warning(args...) }
func Error(args ...interface{})                   { glog.Error(args...) }

// V reports whether verbosity level n is enabled, mirroring glog.V(n).
func V(n Level) bool { return bool(glog.V(n)) }

// Flush flushes all pending log I/O; call on shutdown.
func Flush() { glog.Flush() }
