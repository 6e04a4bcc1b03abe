// Package jsonl reads case payloads from newline-delimited JSON.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

// MaxLineBytes bounds a single payload line.
const MaxLineBytes = 4 << 20

// Source implements ports.PayloadSource. A line that is not a JSON object is
// reported as an ErrInvalidInput error carrying its line number; reading then
// continues with the next line.
type Source struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

// Open reads payloads from path, or from stdin when path is "-".
func Open(path string) (*Source, error) {
	if path == "-" {
		return NewReader(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open payload source: %w", err)
	}
	s := NewReader(f)
	s.closer = f
	return s, nil
}

func NewReader(r io.Reader) *Source {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	return &Source{scanner: scanner}
}

func (s *Source) Next(ctx context.Context) (domain.RawPayload, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.RawPayload{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				s.line++
				return domain.RawPayload{}, fmt.Errorf("read payload line %d: %w", s.line, err)
			}
			return domain.RawPayload{}, io.EOF
		}
		s.line++

		raw := bytes.TrimSpace(s.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if !utf8.Valid(raw) {
			return domain.RawPayload{Line: s.line}, invalidLine(s.line, fmt.Errorf("not valid utf-8"))
		}
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			return domain.RawPayload{Line: s.line}, invalidLine(s.line, err)
		}
		if data == nil {
			return domain.RawPayload{Line: s.line}, invalidLine(s.line, fmt.Errorf("payload is null"))
		}
		return domain.RawPayload{Line: s.line, Data: data}, nil
	}
}

func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func invalidLine(line int, err error) error {
	return domain.WrapError(domain.ErrInvalidInput, fmt.Sprintf("payload line %d", line), err)
}
