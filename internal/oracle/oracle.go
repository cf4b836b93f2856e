// Package oracle is the boundary to the external reasoning model. Pipeline
// stages only see plain text and typed failures; provider clients live under
// internal/llm.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Oracle answers a natural-language instruction with free text.
type Oracle interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, prompt string) (string, error)

// Ask implements Oracle.
func (f Func) Ask(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// Kind classifies an oracle failure. Stages pick their degrade path on it.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindUnavailable Kind = "unavailable"
	KindEmpty       Kind = "empty"
	KindParse       Kind = "parse"
)

// ExcerptLen bounds the response excerpt carried on a Failure.
const ExcerptLen = 200

// Failure is the error returned for every unusable oracle interaction.
type Failure struct {
	Kind    Kind
	Err     error
	Excerpt string
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "oracle " + string(f.Kind)
	}
	return fmt.Sprintf("oracle %s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Classify converts err into a *Failure. Existing failures pass through;
// deadline errors become timeouts; anything else is unavailable.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: KindTimeout, Err: err}
	}
	return &Failure{Kind: KindUnavailable, Err: err}
}

// KindOf returns the failure kind of err, or "" for nil.
func KindOf(err error) Kind {
	if f := Classify(err); f != nil {
		return f.Kind
	}
	return ""
}

// Call asks o and normalizes the outcome: transport errors are classified
// and a blank answer is a KindEmpty failure.
func Call(ctx context.Context, o Oracle, prompt string) (string, error) {
	text, err := o.Ask(ctx, prompt)
	if err != nil {
		return "", Classify(err)
	}
	if strings.TrimSpace(text) == "" {
		return "", &Failure{Kind: KindEmpty, Err: errors.New("blank response")}
	}
	return text, nil
}

// WithTimeout bounds every call to o by d. d <= 0 returns o unchanged.
func WithTimeout(o Oracle, d time.Duration) Oracle {
	if d <= 0 {
		return o
	}
	return Func(func(ctx context.Context, prompt string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		text, err := o.Ask(ctx, prompt)
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			return "", &Failure{Kind: KindTimeout, Err: err}
		}
		return text, err
	})
}

// Observed reports the outcome and latency of every call to observe.
// outcome is "ok" or the failure kind.
func Observed(o Oracle, observe func(outcome string, dur time.Duration)) Oracle {
	if observe == nil {
		return o
	}
	return Func(func(ctx context.Context, prompt string) (string, error) {
		start := time.Now()
		text, err := Call(ctx, o, prompt)
		outcome := "ok"
		if err != nil {
			outcome = string(KindOf(err))
		}
		observe(outcome, time.Since(start))
		return text, err
	})
}

// Excerpt truncates s to at most n runes for logs and failure records.
func Excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
