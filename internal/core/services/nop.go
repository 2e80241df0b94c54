package services

import (
	"time"

	"roomcast/internal/core/ports"
)

type nopMetrics struct{}

func (nopMetrics) LinkOpened()                            {}
func (nopMetrics) LinkClosed()                            {}
func (nopMetrics) RebuildCycle()                          {}
func (nopMetrics) SignalingFailure()                      {}
func (nopMetrics) ChunkFlushed(int)                       {}
func (nopMetrics) RecordingFinished(time.Duration, error) {}

type nopNotifier struct{}

func (nopNotifier) Notify(ports.Notification) {}
