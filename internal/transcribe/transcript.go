// Package transcribe turns episode audio into a time-annotated transcript:
// space-separated tokens of the form word<12.34s>, one line per utterance.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/maxharrison/podcast-adblocker/internal/advert"
)

// ErrMalformedAnnotation is returned by Parse for tokens that are not word<Ns>.
var ErrMalformedAnnotation = fmt.Errorf("%w: malformed transcript annotation", advert.ErrInvalid)

// Transcriber produces the annotated transcript of an episode.
type Transcriber interface {
	// Transcribe returns the transcript of audio. sourceURL identifies the
	// episode and is used to name staged uploads.
	Transcribe(ctx context.Context, audio []byte, sourceURL string) (string, error)
}

// Word is a recognised word and the offset, in seconds, at which it starts.
type Word struct {
	Text   string
	Offset float64
}

// Line is one utterance of consecutive words.
type Line []Word

// Format renders lines as the annotated transcript. Whitespace inside a
// word is removed and empty words are dropped; empty lines are skipped.
func Format(lines []Line) string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		tokens := make([]string, 0, len(line))
		for _, w := range line {
			text := strings.Join(strings.Fields(w.Text), "")
			if text == "" {
				continue
			}
			tokens = append(tokens, text+"<"+strconv.FormatFloat(w.Offset, 'f', 2, 64)+"s>")
		}
		if len(tokens) > 0 {
			out = append(out, strings.Join(tokens, " "))
		}
	}
	return strings.Join(out, "\n")
}

// Parse reads an annotated transcript back into lines.
func Parse(text string) ([]Line, error) {
	var lines []Line
	for n, raw := range strings.Split(text, "\n") {
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			continue
		}
		line := make(Line, 0, len(fields))
		for _, tok := range fields {
			w, err := parseToken(tok)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %q: %s", ErrMalformedAnnotation, n+1, tok, err.Error())
			}
			line = append(line, w)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func parseToken(tok string) (Word, error) {
	open := strings.LastIndexByte(tok, '<')
	if open <= 0 || !strings.HasSuffix(tok, "s>") {
		return Word{}, errors.New("expected word<Ns>")
	}
	offset, err := strconv.ParseFloat(tok[open+1:len(tok)-2], 64)
	if err != nil {
		return Word{}, fmt.Errorf("bad offset: %w", err)
	}
	if offset < 0 || math.IsNaN(offset) || math.IsInf(offset, 0) {
		return Word{}, errors.New("offset out of range")
	}
	return Word{Text: tok[:open], Offset: offset}, nil
}
