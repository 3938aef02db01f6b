package routing

import (
	"testing"

	"gotest.tools/assert"
)

func TestNormalizeTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "6281234@c.us", want: "6281234@c.us"},
		{raw: "120363012345@g.us", want: "120363012345@g.us"},
		{raw: "120363012345", want: "120363012345@g.us"},
		{raw: "+62 812-34", want: "6281234@c.us"},
		{raw: "  6281234  ", want: "6281234@c.us"},
		{raw: "", want: ""},
		{raw: "   ", want: ""},
		{raw: "no digits", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, NormalizeTarget(tt.raw), tt.want, "raw=%q", tt.raw)
	}
}

func TestNormalizeTargetIdempotent(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"6281234@c.us", "120363", "120363@g.us", "+62 (812) 34", "abc", "", "@c.us",
		"12 0363", "1203a63", " 120999 ", "x@g.us ",
	}
	for _, in := range inputs {
		once := NormalizeTarget(in)
		assert.Equal(t, NormalizeTarget(once), once, "input=%q", in)
	}
}
