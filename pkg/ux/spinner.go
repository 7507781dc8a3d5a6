// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner is an animated progress indicator whose message can change
// mid-flight, e.g. as pipeline stages stream in.
type Spinner struct {
	mu         sync.Mutex
	message    string
	stop       chan struct{}
	done       chan struct{}
	isRunning  bool
	frameIndex int
}

// NewSpinner creates a spinner with the initial message.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		message: message,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetMessage replaces the message shown next to the animation.
func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()

	if Plain() {
		fmt.Printf("PROGRESS: %s\n", message)
	}
}

// Start begins the animation. In plain mode the message prints once
// per update instead.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	if Plain() {
		fmt.Printf("PROGRESS: %s\n", s.message)
		return
	}

	go func() {
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				fmt.Print("\r\033[K")
				close(s.done)
				return
			case <-ticker.C:
				s.mu.Lock()
				frame := Styles.Highlight.Render(spinnerFrames[s.frameIndex])
				fmt.Printf("\r%s %s", frame, s.message)
				s.frameIndex = (s.frameIndex + 1) % len(spinnerFrames)
				s.mu.Unlock()
			}
		}
	}()
}

// Stop halts the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	if Plain() {
		return
	}
	close(s.stop)
	<-s.done
}
