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

// Spinner animates a message while a blocking call runs. Outside
// ModeRich it prints the message once and never redraws. A Spinner is
// single use.
type Spinner struct {
	p       *Printer
	message string
	stop    chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	running bool
}

// NewSpinner creates a stopped spinner.
func NewSpinner(p *Printer, message string) *Spinner {
	return &Spinner{
		p:       p,
		message: message,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the animation. Calling it twice is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if s.p.mode != ModeRich {
		if s.p.mode == ModePlain {
			fmt.Fprintf(s.p.w, "%s...\n", s.message)
		}
		close(s.done)
		return
	}

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-s.stop:
				fmt.Fprint(s.p.w, "\r\033[K")
				return
			case <-ticker.C:
				s.mu.Lock()
				msg := s.message
				s.mu.Unlock()
				fmt.Fprintf(s.p.w, "\r%s %s", Styles.Highlight.Render(spinnerFrames[i%len(spinnerFrames)]), msg)
			}
		}
	}()
}

// Stop halts the animation and clears its line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stop)
	<-s.done
}

// UpdateMessage changes the text while running.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// WithSpinner runs fn under a spinner and reports its outcome.
func WithSpinner(p *Printer, message string, fn func() error) error {
	spin := NewSpinner(p, message)
	spin.Start()
	err := fn()
	spin.Stop()

	if err != nil {
		p.Error("%s: %v", message, err)
		return err
	}
	p.Success("%s", message)
	return nil
}
