// Package action encodes button values and note prefixes exchanged with chat
// users. Values look like take_42 or route_42_ou_abc; notes look like
// "#comment_7: text".
package action

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Kind string

const (
	Take      Kind = "take"
	Approve   Kind = "approve"
	NoApprove Kind = "noapprove"
	Route     Kind = "route"
	Accept    Kind = "accept"
	Reject    Kind = "reject"
	Finish    Kind = "finish"
	Complete  Kind = "complete"
)

var kinds = map[Kind]bool{
	Take: true, Approve: true, NoApprove: true, Route: true,
	Accept: true, Reject: true, Finish: true, Complete: true,
}

// ErrMalformed is returned for values that do not decode to a known action.
var ErrMalformed = errors.New("malformed action")

// Action is one button click: a kind applied to an entity id, with an
// optional target user (the approver for Route).
type Action struct {
	Kind   Kind
	ID     int64
	Target string
}

func (a Action) Encode() string {
	s := string(a.Kind) + "_" + strconv.FormatInt(a.ID, 10)
	if a.Target != "" {
		s += "_" + a.Target
	}
	return s
}

func (a Action) String() string { return a.Encode() }

// Decode parses a button value. Target ids may themselves contain
// underscores, so only the first two separators are significant.
func Decode(value string) (Action, error) {
	parts := strings.SplitN(strings.TrimSpace(value), "_", 3)
	if len(parts) < 2 {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, value)
	}
	kind := Kind(parts[0])
	if !kinds[kind] {
		return Action{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, parts[0])
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return Action{}, fmt.Errorf("%w: bad id in %q", ErrMalformed, value)
	}
	a := Action{Kind: kind, ID: id}
	if len(parts) == 3 {
		a.Target = parts[2]
	}
	switch {
	case kind == Route && a.Target == "":
		return Action{}, fmt.Errorf("%w: route needs an approver", ErrMalformed)
	case kind != Route && a.Target != "":
		return Action{}, fmt.Errorf("%w: %s takes no target", ErrMalformed, kind)
	}
	return a, nil
}

type NoteKind string

const (
	CommentNote  NoteKind = "comment"
	QuestionNote NoteKind = "question"
)

// Note is free text attached to a request (comment) or a task (question).
type Note struct {
	Kind NoteKind
	ID   int64
	Text string
}

func (n Note) Encode() string {
	return fmt.Sprintf("#%s_%d: %s", n.Kind, n.ID, n.Text)
}

// Prefix returns the text a user types before the note body.
func (n Note) Prefix() string {
	return fmt.Sprintf("#%s_%d:", n.Kind, n.ID)
}

// ParseNote recognises "#comment_<id>: text" and "#question_<id>: text".
// ok is false when text does not start with a note prefix at all; err is set
// when it does but the rest is unusable.
func ParseNote(text string) (n Note, ok bool, err error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "#") {
		return Note{}, false, nil
	}
	head, body, found := strings.Cut(text[1:], ":")
	kind, rawID, hasID := strings.Cut(head, "_")
	nk := NoteKind(kind)
	if nk != CommentNote && nk != QuestionNote {
		return Note{}, false, nil
	}
	if !found || !hasID {
		return Note{}, true, fmt.Errorf("%w: expected #%s_<id>: text", ErrMalformed, kind)
	}
	id, perr := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if perr != nil || id <= 0 {
		return Note{}, true, fmt.Errorf("%w: bad id %q", ErrMalformed, rawID)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return Note{}, true, fmt.Errorf("%w: empty %s", ErrMalformed, kind)
	}
	return Note{Kind: nk, ID: id, Text: body}, true, nil
}
