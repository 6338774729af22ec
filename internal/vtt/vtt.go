// Package vtt renders Momentos transcripts as WebVTT documents.
package vtt

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"mdl/internal/momentos"
)

// Header opens every WebVTT document.
const Header = "WEBVTT\n\n"

// FormatTimestamp renders seconds as HH:MM:SS.mmm. Milliseconds are the
// first three decimal digits of the shortest decimal form of seconds, so
// float storage error never shows up as a millisecond lost. Values exactly
// representable as float32 (every phrase time) are read at float32
// precision. Negative, NaN and infinite input render as zero. Hours past 99
// widen the hour field.
func FormatTimestamp(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		seconds = 0
	}
	bits := 64
	if float64(float32(seconds)) == seconds {
		bits = 32
	}
	decimal := strconv.FormatFloat(seconds, 'f', -1, bits)
	intPart, fracPart, _ := strings.Cut(decimal, ".")

	total, err := strconv.ParseUint(intPart, 10, 64)
	if err != nil {
		total = uint64(math.Floor(seconds))
	}
	fracPart = (fracPart + "000")[:3]
	millis, _ := strconv.Atoi(fracPart)

	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, secs, millis)
}

// Encode writes t to w as WebVTT and returns the number of bytes written.
// Phrases are emitted in their original order. The output is flushed before
// returning so a nil error means the whole document reached w.
func Encode(w io.Writer, t momentos.Transcript) (int64, error) {
	buffered := bufio.NewWriter(w)
	var written int64

	n, err := buffered.WriteString(Header)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("write vtt header: %w", err)
	}

	for _, phrase := range t.Phrases {
		n, err := fmt.Fprintf(buffered, "%s --> %s\n%s\n\n",
			FormatTimestamp(float64(phrase.Start)),
			FormatTimestamp(float64(phrase.End)),
			phrase.Text,
		)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("write vtt cue %s: %w", phrase.ID, err)
		}
	}

	if err := buffered.Flush(); err != nil {
		return written, fmt.Errorf("flush vtt: %w", err)
	}
	return written, nil
}
