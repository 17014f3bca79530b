//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package log_test

import (
	"testing"

	"github.com/deeptutor/memory-go/log"
)

func TestLog(t *testing.T) {
	old := log.Default
	log.Default = &noopLogger{}
	defer func() { log.Default = old }()

	log.Debug("test")
	log.Debugf("test")
	log.Info("test")
	log.Infof("test")
	log.Warn("test")
	log.Warnf("test")
	log.Error("test")
	log.Errorf("test")
	log.Fatal("test")
	log.Fatalf("test")
}

func TestSetLevel(t *testing.T) {
	for _, level := range []string{
		log.LevelDebug, log.LevelInfo, log.LevelWarn,
		log.LevelError, log.LevelFatal, "bogus",
	} {
		log.SetLevel(level)
	}
	log.SetLevel(log.LevelInfo)
}

type noopLogger struct{}

func (*noopLogger) Debug(args ...any)                 {}
func (*noopLogger) Debugf(format string, args ...any) {}
func (*noopLogger) Info(args ...any)                  {}
func (*noopLogger) Infof(format string, args ...any)  {}
func (*noopLogger) Warn(args ...any)                  {}
func (*noopLogger) Warnf(format string, args ...any)  {}
func (*noopLogger) Error(args ...any)                 {}
func (*noopLogger) Errorf(format string, args ...any) {}
func (*noopLogger) Fatal(args ...any)                 {}
func (*noopLogger) Fatalf(format string, args ...any) {}
