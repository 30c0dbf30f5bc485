// Package console injects an in-page shim that captures console output and
// uncaught errors into a capped ring buffer. Navigation resets page-global
// state, so the shim is re-injected after every navigation.
package console

import (
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"go.uber.org/zap"
)

// MaxEntries caps the ring buffer; the oldest entries are evicted first.
const MaxEntries = 1000

// Entry is one captured console message or uncaught error.
type Entry struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	URL       string `json:"url"`
	Stack     string `json:"stack,omitempty"`
}

// Bridge manages the in-page console shim.
type Bridge struct {
	log *zap.Logger
}

// NewBridge returns a console bridge.
func NewBridge(log *zap.Logger) *Bridge {
	return &Bridge{log: log.Named("console")}
}

// shimJS installs the console override. Idempotent: the window marker guards
// double installation. The cap mirrors MaxEntries.
const shimJS = `
() => {
	const w = window;
	if (w.__webpilotConsole) return false;

	const cap = 1000;
	const buf = [];
	const push = (level, parts, stack) => {
		let message;
		try {
			message = parts.map(p => typeof p === 'string' ? p : JSON.stringify(p)).join(' ');
		} catch (e) {
			message = String(parts);
		}
		buf.push({
			level,
			message,
			timestamp: new Date().toISOString(),
			url: w.location.href,
			stack: stack || ''
		});
		if (buf.length > cap) buf.splice(0, buf.length - cap);
	};

	w.__webpilotConsole = {
		push,
		read: () => buf.slice(),
		clear: () => { buf.length = 0; },
		restore: (entries) => {
			buf.unshift(...entries);
			if (buf.length > cap) buf.splice(0, buf.length - cap);
		}
	};

	for (const level of ['log', 'info', 'warn', 'error', 'debug']) {
		const original = console[level];
		console[level] = (...args) => {
			push(level === 'log' ? 'info' : level, args);
			original.apply(console, args);
		};
	}

	w.addEventListener('error', ev => {
		push('error', [ev.message], ev.error && ev.error.stack);
	});
	w.addEventListener('unhandledrejection', ev => {
		push('error', ['Unhandled promise rejection: ' + String(ev.reason)],
			ev.reason && ev.reason.stack);
	});
	return true;
}
`

// EnsureInjected installs the shim if the page does not already carry it.
func (b *Bridge) EnsureInjected(page *rod.Page) error {
	res, err := page.Evaluate(&rod.EvalOptions{JS: shimJS, ByValue: true})
	if err != nil {
		return fmt.Errorf("inject console shim: %w", err)
	}
	if res != nil && res.Value.Bool() {
		b.log.Debug("console shim installed")
	}
	return nil
}

// ReadLogs returns the buffered entries in arrival order.
func (b *Bridge) ReadLogs(page *rod.Page) ([]Entry, error) {
	res, err := page.Evaluate(&rod.EvalOptions{
		JS:      `() => window.__webpilotConsole ? window.__webpilotConsole.read() : []`,
		ByValue: true,
	})
	if err != nil {
		return nil, fmt.Errorf("read console buffer: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("decode console buffer: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode console buffer: %w", err)
	}
	return Cap(entries), nil
}

// ClearLogs resets the buffer.
func (b *Bridge) ClearLogs(page *rod.Page) error {
	_, err := page.Evaluate(&rod.EvalOptions{
		JS:      `() => { if (window.__webpilotConsole) window.__webpilotConsole.clear(); }`,
		ByValue: true,
	})
	if err != nil {
		return fmt.Errorf("clear console buffer: %w", err)
	}
	return nil
}

// Restore writes previously read entries back at the front of the buffer,
// preserving order across a navigation-induced context reset.
func (b *Bridge) Restore(page *rod.Page, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	raw, err := json.Marshal(Cap(entries))
	if err != nil {
		return err
	}
	_, err = page.Evaluate(&rod.EvalOptions{
		JS: `(entries) => {
			if (window.__webpilotConsole) window.__webpilotConsole.restore(JSON.parse(entries));
		}`,
		JSArgs:  []interface{}{string(raw)},
		ByValue: true,
	})
	if err != nil {
		return fmt.Errorf("restore console buffer: %w", err)
	}
	return nil
}

// Cap trims to the most recent MaxEntries entries, keeping original order.
// Defensive mirror of the in-page cap.
func Cap(entries []Entry) []Entry {
	if len(entries) <= MaxEntries {
		return entries
	}
	return entries[len(entries)-MaxEntries:]
}
