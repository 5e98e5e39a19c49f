package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTruncateText(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	assert.Equal(t, "short", tp.TruncateText("short", 10))
	assert.Equal(t, "no limit", tp.TruncateText("no limit", 0))

	got := tp.TruncateText("héllo wörld", 2)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "h"+truncationMarker, got)
}

func TestSanitizeUTF8(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	assert.Equal(t, "valid", tp.SanitizeUTF8("valid"))
	assert.Equal(t, "ab", tp.SanitizeUTF8("a\xffb"))
}

func TestStripQuotedReply(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "gmail attribution",
			in:   "Sounds good, let's talk Tuesday.\n\nOn Mon, Jan 6, 2025 at 9:00 AM Sam <sam@x.com> wrote:\n> Hi Jane,\n> Are you free?",
			want: "Sounds good, let's talk Tuesday.",
		},
		{
			name: "outlook separator",
			in:   "Yes please.\r\n-----Original Message-----\r\nFrom: Sam",
			want: "Yes please.",
		},
		{
			name: "inline quotes",
			in:   "> question one\nanswer one\n> question two\nanswer two",
			want: "answer one\nanswer two",
		},
		{
			name: "fully quoted keeps original",
			in:   "> only quoted",
			want: "> only quoted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tp.StripQuotedReply(tt.in))
		})
	}
}

func TestReplyContent(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	assert.Equal(t, "snippet text", tp.ReplyContent("  ", " snippet text ", 100))
	assert.Equal(t, "Thanks!", tp.ReplyContent("Thanks!\n> quoted", "ignored", 100))

	long := strings.Repeat("a", 50)
	assert.True(t, strings.HasSuffix(tp.ReplyContent(long, "", 10), truncationMarker))
}
