// Package buffer collects pipeline output into named sections that
// front ends (console, HTTP sessions) read or observe.
package buffer

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Section names written by the forecast pipeline.
const (
	SectionUser       = "user"
	SectionBackground = "background"
	SectionParameters = "parameters"
	SectionReport     = "report"
)

// DefaultSections lists the sections created by New.
var DefaultSections = []string{SectionUser, SectionBackground, SectionParameters, SectionReport}

// Entry is a single timestamped write.
type Entry struct {
	Section   string    `json:"section"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer is notified after every write. Observers run synchronously on
// the writer's goroutine and must not call back into the Manager.
type Observer func(Entry)

// Manager holds the sections for one forecast session.
type Manager struct {
	mu        sync.RWMutex
	order     []string
	sections  map[string][]Entry
	observers []Observer
	echo      io.Writer
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithEcho prints every user-section write to w.
func WithEcho(w io.Writer) Option {
	return func(m *Manager) {
		m.echo = w
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New creates a Manager with the default sections.
func New(opts ...Option) *Manager {
	m := &Manager{
		sections: make(map[string][]Entry),
		now:      time.Now,
	}
	for _, s := range DefaultSections {
		m.order = append(m.order, s)
		m.sections[s] = nil
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Subscribe registers an observer.
func (m *Manager) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Write appends content to section, creating the section if needed.
func (m *Manager) Write(section, content string) {
	e := Entry{Section: section, Content: content, Timestamp: m.now().UTC()}

	m.mu.Lock()
	if _, ok := m.sections[section]; !ok {
		m.order = append(m.order, section)
	}
	m.sections[section] = append(m.sections[section], e)
	observers := append([]Observer(nil), m.observers...)
	echo := m.echo
	m.mu.Unlock()

	if echo != nil && section == SectionUser {
		fmt.Fprintln(echo, content) //nolint:errcheck
	}
	for _, o := range observers {
		o(e)
	}
}

// Writef formats and writes to section.
func (m *Manager) Writef(section, format string, args ...any) {
	m.Write(section, fmt.Sprintf(format, args...))
}

// Dump renders a section as "[HH:MM:SS] content" lines.
func (m *Manager) Dump(section string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.sections[section]
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("[%s] %s", e.Timestamp.Format("15:04:05"), e.Content)
	}
	return strings.Join(lines, "\n")
}

// Text returns a section's content without timestamps.
func (m *Manager) Text(section string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.sections[section]
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.Content
	}
	return strings.Join(parts, "\n")
}

// Sections returns section names in creation order.
func (m *Manager) Sections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Snapshot returns Dump for every section.
func (m *Manager) Snapshot() map[string]string {
	out := make(map[string]string)
	for _, s := range m.Sections() {
		out[s] = m.Dump(s)
	}
	return out
}
