package logtail

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Read returns at most maxLines from the end of the file at path.
func Read(path string, maxLines int) ([]string, error) {
	if maxLines <= 0 {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	ring := make([]string, maxLines)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	count := 0
	idx := 0
	for scanner.Scan() {
		ring[idx] = scanner.Text()
		idx = (idx + 1) % maxLines
		if count < maxLines {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	lines := make([]string, count)
	if count == maxLines {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%maxLines]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, nil
}

// Options control Render.
type Options struct {
	// MinLevel drops JSON entries below it. Non-JSON lines are always kept.
	MinLevel zerolog.Level
	// Component keeps only entries whose "component" field matches.
	Component string
	NoColor   bool
}

// Render writes lines to w in console form.
func Render(w io.Writer, lines []string, opts Options) error {
	console := zerolog.ConsoleWriter{Out: w, NoColor: opts.NoColor, TimeFormat: time.DateTime}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, ok := parse(line)
		if !ok {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
			continue
		}
		if !keep(entry, opts) {
			continue
		}
		if _, err := console.Write([]byte(line)); err != nil {
			return fmt.Errorf("render log line: %w", err)
		}
	}
	return nil
}

type entry struct {
	Level     string `json:"level"`
	Component string `json:"component"`
}

func parse(line string) (entry, bool) {
	var e entry
	if !strings.HasPrefix(strings.TrimSpace(line), "{") {
		return e, false
	}
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return e, false
	}
	return e, true
}

func keep(e entry, opts Options) bool {
	if opts.Component != "" && e.Component != opts.Component {
		return false
	}
	level, err := zerolog.ParseLevel(e.Level)
	if err != nil || e.Level == "" {
		return true
	}
	return level >= opts.MinLevel
}
