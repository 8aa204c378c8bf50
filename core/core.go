// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package core holds the engine wide services the resource pipeline is
// built on: configuration, frame timing, logging and the ownership of
// the thread that drives the graphics and audio contexts.
package core

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// NewLogger builds a logger from the log section of the configuration.
// Unknown levels fall back to info.
func NewLogger(cfg LogConfiguration) *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stderr)

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return logger
}
