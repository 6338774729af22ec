package vtt

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"mdl/internal/momentos"
)

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		input float64
		want  string
	}{
		{0, "00:00:00.000"},
		{1.5, "00:00:01.500"},
		{59.75, "00:00:59.750"},
		{60, "00:01:00.000"},
		{3661.5, "01:01:01.500"},
		{0.9995, "00:00:00.999"},
		{float64(float32(61.123)), "00:01:01.123"},
		{float64(float32(0.29)), "00:00:00.290"},
		{0.29, "00:00:00.290"},
		{float64(float32(3600.123)), "01:00:00.123"},
		{float64(float32(59.9999)), "00:00:59.999"},
		{-5, "00:00:00.000"},
		{math.NaN(), "00:00:00.000"},
		{math.Inf(1), "00:00:00.000"},
		{360000, "100:00:00.000"},
	}
	for _, tt := range tests {
		if got := FormatTimestamp(tt.input); got != tt.want {
			t.Errorf("FormatTimestamp(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatTimestampEveryMillisecond(t *testing.T) {
	for ms := 0; ms < 1000; ms++ {
		want := fmt.Sprintf("00:00:07.%03d", ms)
		exact, err := strconv.ParseFloat(fmt.Sprintf("7.%03d", ms), 64)
		if err != nil {
			t.Fatal(err)
		}
		if got := FormatTimestamp(exact); got != want {
			t.Errorf("FormatTimestamp(%v) = %q, want %q", exact, got, want)
		}
		stored := float64(float32(exact))
		if got := FormatTimestamp(stored); got != want {
			t.Errorf("FormatTimestamp(float32 %v) = %q, want %q", stored, got, want)
		}
	}
}

func TestFormatTimestampShape(t *testing.T) {
	pattern := regexp.MustCompile(`^\d{2}:\d{2}:\d{2}\.\d{3}$`)
	for s := 0.0; s < 360000; s += 977.137 {
		if got := FormatTimestamp(s); !pattern.MatchString(got) {
			t.Fatalf("FormatTimestamp(%v) = %q does not match HH:MM:SS.mmm", s, got)
		}
	}
}

func TestEncodeSinglePhrase(t *testing.T) {
	var buf bytes.Buffer
	transcript := momentos.Transcript{Phrases: []momentos.Phrase{{ID: "p1", Text: "Hello", Start: 0, End: 1.5}}}

	n, err := Encode(&buf, transcript)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	want := "WEBVTT\n\n00:00:00.000 --> 00:00:01.500\nHello\n\n"
	if buf.String() != want {
		t.Fatalf("Encode = %q, want %q", buf.String(), want)
	}
	if n != int64(len(want)) {
		t.Fatalf("written = %d, want %d", n, len(want))
	}
}

func TestEncodeShortCue(t *testing.T) {
	var buf bytes.Buffer
	transcript := momentos.Transcript{Phrases: []momentos.Phrase{{ID: "p1", Text: "Hi", Start: 0, End: 1.25}}}

	if _, err := Encode(&buf, transcript); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if want := "WEBVTT\n\n00:00:00.000 --> 00:00:01.250\nHi\n\n"; buf.String() != want {
		t.Fatalf("Encode = %q, want %q", buf.String(), want)
	}
}

func TestEncodeEmptyTranscript(t *testing.T) {
	var buf bytes.Buffer
	n, err := Encode(&buf, momentos.Transcript{})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if buf.String() != Header || n != int64(len(Header)) {
		t.Fatalf("Encode = %q (%d bytes), want header only", buf.String(), n)
	}
}

func TestEncodeKeepsOrder(t *testing.T) {
	var buf bytes.Buffer
	transcript := momentos.Transcript{Phrases: []momentos.Phrase{
		{ID: "b", Text: "second", Start: 5, End: 6},
		{ID: "a", Text: "first", Start: 1, End: 2},
	}}
	if _, err := Encode(&buf, transcript); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Index(out, "second") > strings.Index(out, "first") {
		t.Fatalf("phrases were reordered: %q", out)
	}
}

type failingWriter struct{ after int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, errors.New("disk full")
	}
	if len(p) > w.after {
		n := w.after
		w.after = 0
		return n, errors.New("disk full")
	}
	w.after -= len(p)
	return len(p), nil
}

func TestEncodeReportsWriteFailure(t *testing.T) {
	phrases := make([]momentos.Phrase, 500)
	for i := range phrases {
		phrases[i] = momentos.Phrase{ID: "p", Text: strings.Repeat("x", 40), Start: float32(i), End: float32(i + 1)}
	}
	if _, err := Encode(&failingWriter{after: 100}, momentos.Transcript{Phrases: phrases}); err == nil {
		t.Fatal("expected write failure to surface")
	}
	if _, err := Encode(&failingWriter{}, momentos.Transcript{}); err == nil {
		t.Fatal("expected flush failure to surface")
	}
}
