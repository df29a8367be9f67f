// Package captcha turns the portal's arithmetic captcha images into answers:
// OCR, then text cleanup for the usual character confusions, then evaluation
// of the single binary expression. Best effort by design; a wrong but
// plausible answer is caught by the login loop's retry budget, not here.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
)

var (
	// ErrEmptyExpression means nothing usable survived cleaning.
	ErrEmptyExpression = errors.New("captcha: expression empty after cleaning")

	// ErrNoOperator means the cleaned text has no operator and is not a
	// plain number either.
	ErrNoOperator = errors.New("captcha: no operator in expression")

	// ErrDivideByZero is returned for expressions like "9/0".
	ErrDivideByZero = errors.New("captcha: division by zero")
)

// confusions maps glyphs the OCR routinely misreads to the character the
// captcha actually drew.
var confusions = strings.NewReplacer(
	"o", "0", "O", "0",
	"l", "1", "i", "1", "I", "1",
	"z", "2", "Z", "2",
	"s", "5", "S", "5",
	"b", "6", "h", "6",
	"B", "8",
	"g", "9",
	"x", "*", "X", "*",
	"÷", "/",
	":", "=",
	"_", "-",
)

// Solver runs the full recognize-clean-evaluate pipeline.
type Solver struct {
	rec Recognizer
	log zerolog.Logger
}

func NewSolver(rec Recognizer, log zerolog.Logger) *Solver {
	return &Solver{rec: rec, log: log}
}

// Solve returns the decimal answer for the captcha image, or an error when
// any pipeline stage fails. No internal retry: the caller owns retries.
func (s *Solver) Solve(ctx context.Context, image []byte) (string, error) {
	raw, err := s.rec.Recognize(ctx, image)
	if err != nil {
		return "", fmt.Errorf("captcha: ocr: %w", err)
	}

	clean := CleanText(raw)
	s.log.Debug().Str("raw", raw).Str("clean", clean).Msg("captcha recognized")

	return Evaluate(clean)
}

// CleanText strips whitespace, applies the confusion table and drops every
// character outside [0-9+-*/=?].
func CleanText(text string) string {
	var b strings.Builder
	for _, r := range text {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}

	mapped := confusions.Replace(b.String())

	b.Reset()
	for _, r := range mapped {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == '-' || r == '*' || r == '/' || r == '=' || r == '?':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Evaluate computes a cleaned expression like "10+2=?" to "12". A bare
// number is returned verbatim: some captchas are just digits.
func Evaluate(expr string) (string, error) {
	// The trailing "=?" is often misread; "-" shows up for "=" too.
	expr = strings.TrimRight(expr, "=?-")
	if expr == "" {
		return "", ErrEmptyExpression
	}

	opIndex := -1
	var op byte
	for _, candidate := range []byte{'+', '-', '*', '/'} {
		if i := strings.IndexByte(expr, candidate); i >= 0 {
			opIndex, op = i, candidate
			break
		}
	}

	if opIndex < 0 {
		if isDigits(expr) {
			return expr, nil
		}
		return "", ErrNoOperator
	}

	left, err := strconv.Atoi(expr[:opIndex])
	if err != nil {
		return "", fmt.Errorf("captcha: parse left operand %q: %w", expr[:opIndex], err)
	}
	right, err := strconv.Atoi(expr[opIndex+1:])
	if err != nil {
		return "", fmt.Errorf("captcha: parse right operand %q: %w", expr[opIndex+1:], err)
	}

	var result int
	switch op {
	case '+':
		result = left + right
	case '-':
		result = left - right
	case '*':
		result = left * right
	case '/':
		if right == 0 {
			return "", ErrDivideByZero
		}
		result = left / right
	}
	return strconv.Itoa(result), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
