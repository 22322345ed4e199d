// Package screen holds the reload contract shared by every list screen: a
// screen owns one fetch, shows whatever it last loaded, and reloads after each
// mutation it performs.
package screen

import (
	"context"

	"github.com/rs/zerolog"
)

type NoticeKind string

const (
	NoticeSuccess     NoticeKind = "success"
	NoticeDestructive NoticeKind = "destructive"
)

// Notice is an inline message shown next to a form.
type Notice struct {
	Kind NoticeKind `json:"kind"`
	Text string     `json:"text"`
}

func Success(text string) *Notice {
	return &Notice{Kind: NoticeSuccess, Text: text}
}

func Destructive(text string) *Notice {
	return &Notice{Kind: NoticeDestructive, Text: text}
}

// View is the payload of a list screen. EmptyMessage is only set when Rows is
// empty.
type View[T any] struct {
	Title        string            `json:"title"`
	Rows         []T               `json:"rows"`
	EmptyMessage string            `json:"empty_message,omitempty"`
	Notice       *Notice           `json:"notice,omitempty"`
	Form         map[string]string `json:"form,omitempty"`
}

func NewView[T any](title, empty string, rows []T, notice *Notice) View[T] {
	if rows == nil {
		rows = []T{}
	}
	v := View[T]{Title: title, Rows: rows, Notice: notice}
	if len(rows) == 0 {
		v.EmptyMessage = empty
	}
	return v
}

type Fetch[T any] func(ctx context.Context) ([]T, error)

// List binds one fetch to a screen.
type List[T any] struct {
	name   string
	fetch  Fetch[T]
	logger zerolog.Logger
}

func NewList[T any](name string, fetch Fetch[T], logger zerolog.Logger) *List[T] {
	return &List[T]{name: name, fetch: fetch, logger: logger}
}

// Load runs the fetch. A failed fetch is logged and reads as an empty list.
func (l *List[T]) Load(ctx context.Context) []T {
	rows, err := l.fetch(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Str("screen", l.name).Msg("list fetch failed")
		return []T{}
	}
	if rows == nil {
		return []T{}
	}
	return rows
}

// Mutate runs fn once and then reloads. A failure becomes a destructive
// notice carrying the error text; success yields a success notice when
// success is non-empty.
func (l *List[T]) Mutate(ctx context.Context, success string, fn func(ctx context.Context) error) ([]T, *Notice) {
	var notice *Notice
	if err := fn(ctx); err != nil {
		l.logger.Warn().Err(err).Str("screen", l.name).Msg("mutation failed")
		notice = Destructive(err.Error())
	} else if success != "" {
		notice = Success(success)
	}
	return l.Load(ctx), notice
}
