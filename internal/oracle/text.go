package oracle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

type texter interface{ Text() string }

type contentGetter interface{ GetContent() string }

// ExtractText normalizes a provider response into plain text. Providers
// return their own reply types; the pipeline never inspects them.
func ExtractText(resp any) string {
	switch v := resp.(type) {
	case nil:
		return ""
	case string:
		return v
	case *string:
		if v == nil {
			return ""
		}
		return *v
	case []byte:
		return string(v)
	case texter:
		return v.Text()
	case contentGetter:
		return v.GetContent()
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(resp)
}

// ExtractJSON locates the JSON value in an oracle answer. Fenced code blocks
// are unwrapped first. Each bracket kind spans from its first opening to its
// last closing occurrence; the span that opens earlier is tried first and
// the other is the fallback, so bracketed prose ahead of the value does not
// hide it. Failures are KindParse and carry an excerpt of text.
func ExtractJSON(text string) (gjson.Result, error) {
	body := stripFences(text)
	obj, objAt := span(body, '{', '}')
	arr, arrAt := span(body, '[', ']')
	candidates := []string{obj, arr}
	if arrAt >= 0 && (objAt < 0 || arrAt < objAt) {
		candidates = []string{arr, obj}
	}
	return firstValid(text, candidates...)
}

// ExtractObject is ExtractJSON restricted to a top-level object.
func ExtractObject(text string) (gjson.Result, error) {
	obj, _ := span(stripFences(text), '{', '}')
	res, err := firstValid(text, obj)
	if err != nil {
		return res, err
	}
	if !res.IsObject() {
		return gjson.Result{}, parseFailure(text, errors.New("expected a JSON object"))
	}
	return res, nil
}

// span returns body from the first open to the last close byte and the
// index of open, or -1 when open is absent. The span is empty when no close
// follows open.
func span(body string, open, closer byte) (string, int) {
	start := strings.IndexByte(body, open)
	if start < 0 {
		return "", -1
	}
	end := strings.LastIndexByte(body, closer)
	if end < start {
		return "", start
	}
	return body[start : end+1], start
}

func firstValid(text string, candidates ...string) (gjson.Result, error) {
	err := errors.New("no JSON value in response")
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if gjson.Valid(c) {
			return gjson.Parse(c), nil
		}
		err = errors.New("invalid JSON")
	}
	return gjson.Result{}, parseFailure(text, err)
}

func parseFailure(text string, err error) *Failure {
	return &Failure{Kind: KindParse, Err: err, Excerpt: Excerpt(text, ExcerptLen)}
}

// stripFences returns the body of the first ``` fenced block, or text
// unchanged when there is none. A language tag after the opening fence is
// dropped.
func stripFences(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		tag := strings.TrimSpace(rest[:nl])
		if !strings.ContainsAny(tag, "{[") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}
