package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

const pollInterval = 250 * time.Millisecond

// TailOptions controls a single Tail call. A negative Offset starts from the
// last Limit matching lines; otherwise reading resumes at Offset.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	Match  func(line string) bool
}

// TailResult carries the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from the log at path. A missing file yields no lines. When
// Follow is set and nothing new is available, Tail polls for up to Wait.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	result := TailResult{Offset: max(opts.Offset, 0)}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}

	limit := 0
	offset := opts.Offset
	if offset < 0 {
		if opts.Limit <= 0 {
			return TailResult{Offset: info.Size()}, nil
		}
		limit = opts.Limit
		offset = 0
	} else if offset > info.Size() {
		// The file shrank underneath us; start over.
		offset = 0
	}

	lines, next, err := scan(path, offset, limit, opts.Match)
	if err != nil {
		return result, err
	}
	result = TailResult{Lines: lines, Offset: next}
	if len(lines) > 0 || !opts.Follow || opts.Wait <= 0 {
		return result, nil
	}
	return waitForLines(ctx, path, next, opts.Wait, opts.Match)
}

// MatchField returns a predicate selecting lines whose key field equals value,
// in either the console (`key=value`) or JSON (`"key":"value"`) log format.
func MatchField(key, value string) func(string) bool {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return nil
	}
	console := " " + key + "=" + value
	quoted := " " + key + "=" + strconv.Quote(value)
	jsonField := strconv.Quote(key) + ":" + strconv.Quote(value)
	return func(line string) bool {
		return strings.Contains(line, jsonField) ||
			strings.Contains(line, quoted) ||
			strings.Contains(line+" ", console+" ")
	}
}

// All combines predicates; nil predicates are ignored.
func All(preds ...func(string) bool) func(string) bool {
	active := make([]func(string) bool, 0, len(preds))
	for _, pred := range preds {
		if pred != nil {
			active = append(active, pred)
		}
	}
	if len(active) == 0 {
		return nil
	}
	return func(line string) bool {
		for _, pred := range active {
			if !pred(line) {
				return false
			}
		}
		return true
	}
}

// scan reads matching lines from offset to EOF. A positive limit keeps only
// the last limit lines.
func scan(path string, offset int64, limit int, match func(string) bool) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var lines []string
	position := offset
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("read log file: %w", err)
		}
		if !strings.HasSuffix(line, "\n") {
			// Partial trailing line; leave it for the next read.
			break
		}
		position += int64(len(line))
		text := strings.TrimRight(line, "\r\n")
		if match == nil || match(text) {
			lines = append(lines, text)
			if limit > 0 && len(lines) > limit {
				lines = lines[1:]
			}
		}
	}
	return lines, position, nil
}

func waitForLines(ctx context.Context, path string, offset int64, wait time.Duration, match func(string) bool) (TailResult, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	result := TailResult{Offset: offset}
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-timer.C:
			return result, nil
		case <-ticker.C:
		}

		lines, next, err := scan(path, result.Offset, 0, match)
		if err != nil {
			return result, err
		}
		result.Offset = next
		if len(lines) > 0 {
			result.Lines = lines
			return result, nil
		}
	}
}
