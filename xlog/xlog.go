// Package xlog wraps the standard log package with the per-message-id
// verbose filter fkie_iop_json_connector's logger.py implements as
// MyLogger.message: a bridge can be started with a list of message ids to
// always log in full, or left to log every message in full only once the
// configured level is debug.
//
// Grounded on logger.py's gating logic (level == debug, or a non-empty
// allowlist, gates whether Message logs at all; a non-empty allowlist
// additionally requires the id to be a member) and on the teacher's own
// logging idiom: plain standard-library log everywhere in the pack, no
// structured logging library pulled in for it.
package xlog

import (
	"encoding/json"
	"log"
)

// Level mirrors logger.py's str2level ladder, from most to least verbose.
type Level int

// Recognised levels, most to least verbose.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

// ParseLevel maps a level name to a Level, defaulting to LevelInfo for an
// unrecognised name, matching logger.py's str2level default.
func ParseLevel(name string) Level {
	switch name {
	case "debug":
		return LevelDebug
	case "warning":
		return LevelWarning
	case "error":
		return LevelError
	case "critical":
		return LevelCritical
	default:
		return LevelInfo
	}
}

// Logger gates Message's verbose per-frame logging by level and an
// optional allowlist of message ids.
type Logger struct {
	level       Level
	logMessages map[string]bool // nil means no allowlist configured
}

// New builds a Logger at level, optionally restricted to ids. A nil or
// empty ids means no allowlist: once the level check passes, every
// message id is eligible.
func New(level Level, ids []string) *Logger {
	l := &Logger{level: level}
	if len(ids) > 0 {
		l.logMessages = make(map[string]bool, len(ids))
		for _, id := range ids {
			l.logMessages[id] = true
		}
	}
	return l
}

// Message logs v (JSON-marshaled) prefixed by prefix if either the logger
// is at debug level or an id allowlist was configured, and — when an
// allowlist is configured — messageID names one of its entries. It
// reports whether it logged, mirroring MyLogger.message's return value.
func (l *Logger) Message(messageID, prefix string, v interface{}) bool {
	if l.level != LevelDebug && l.logMessages == nil {
		return false
	}
	if l.logMessages != nil && !l.logMessages[messageID] {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("xlog: marshal failed for %s: %v", prefix, err)
		return false
	}
	log.Printf("%s: %s", prefix, data)
	return true
}
