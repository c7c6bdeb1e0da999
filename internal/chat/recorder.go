package chat

import "time"

// Recorder receives operational measurements from the orchestrator.
type Recorder interface {
	RequestFinished(kind string, category Category, duration time.Duration)
	EnhancementSkipped()
	ChunkReceived()
}

type nopRecorder struct{}

func (nopRecorder) RequestFinished(string, Category, time.Duration) {}
func (nopRecorder) EnhancementSkipped()                             {}
func (nopRecorder) ChunkReceived()                                  {}
