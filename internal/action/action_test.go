package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionRoundTrip(t *testing.T) {
	for _, a := range []Action{
		{Kind: Take, ID: 42},
		{Kind: Complete, ID: 1},
		{Kind: Route, ID: 7, Target: "ou_abc_def"},
	} {
		got, err := Decode(a.Encode())
		require.NoError(t, err, a.Encode())
		assert.Equal(t, a, got)
	}
	assert.Equal(t, "take_42", Action{Kind: Take, ID: 42}.Encode())
}

func TestDecodeRejects(t *testing.T) {
	for _, v := range []string{
		"",
		"take",
		"take_x",
		"take_0",
		"explode_3",
		"route_3",
		"finish_3_ou_x",
	} {
		_, err := Decode(v)
		assert.ErrorIs(t, err, ErrMalformed, v)
	}
}

func TestParseNote(t *testing.T) {
	n, ok, err := ParseNote("  #comment_7: printer still jams ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Note{Kind: CommentNote, ID: 7, Text: "printer still jams"}, n)
	assert.Equal(t, "#comment_7: printer still jams", n.Encode())

	n, ok, err = ParseNote("#question_12:when?")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, QuestionNote, n.Kind)
	assert.Equal(t, "#question_12:", n.Prefix())

	_, ok, err = ParseNote("hello there")
	assert.False(t, ok)
	assert.NoError(t, err)

	_, ok, err = ParseNote("#random tag")
	assert.False(t, ok)
	assert.NoError(t, err)

	for _, bad := range []string{"#comment_7", "#comment_x: hi", "#question_3:   "} {
		_, ok, err = ParseNote(bad)
		assert.True(t, ok, bad)
		assert.ErrorIs(t, err, ErrMalformed, bad)
	}
}
