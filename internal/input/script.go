package input

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Cue is one scripted trigger: a raw input token and the offset from the
// start of the run at which it fires.
type Cue struct {
	Token string
	At    time.Duration
}

// ParseScript reads a replay script: whitespace-separated trigger tokens,
// optionally suffixed with an absolute millisecond offset as `token@1500`.
// Tokens without an offset land step after the previous cue. `#` starts a
// comment running to end of line.
func ParseScript(r io.Reader, step time.Duration) ([]Cue, error) {
	if step <= 0 {
		step = 250 * time.Millisecond
	}

	var cues []Cue
	cursor := time.Duration(0)
	first := true

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}

		for _, token := range strings.Fields(line) {
			name, offset, hasOffset, err := splitCue(token)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}

			switch {
			case hasOffset:
				cursor = offset
			case first:
				// The first bare cue fires immediately
			default:
				cursor += step
			}
			first = false

			cues = append(cues, Cue{Token: name, At: cursor})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return cues, nil
}

func splitCue(token string) (name string, offset time.Duration, hasOffset bool, err error) {
	at := strings.LastIndex(token, "@")
	if at < 0 {
		return token, 0, false, nil
	}
	if at == 0 {
		return "", 0, false, fmt.Errorf("cue %q has no trigger token", token)
	}

	ms, err := strconv.ParseInt(token[at+1:], 10, 64)
	if err != nil || ms < 0 {
		return "", 0, false, fmt.Errorf("cue %q has a bad offset (want non-negative milliseconds)", token)
	}
	return token[:at], time.Duration(ms) * time.Millisecond, true, nil
}
