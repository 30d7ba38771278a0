package links

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstURL(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"empty", "", "", false},
		{"no url", "just chatting here", "", false},
		{"bare domain", "see tiktok.com/@u/video/1", "", false},
		{"ftp ignored", "ftp://example.com/file", "", false},
		{"single", "check this https://www.tiktok.com/@u/video/123", "https://www.tiktok.com/@u/video/123", true},
		{"leftmost wins", "a http://one.example/x b https://two.example/y", "http://one.example/x", true},
		{"uppercase scheme", "HTTPS://VM.TIKTOK.COM/abc done", "HTTPS://VM.TIKTOK.COM/abc", true},
		{"stops at whitespace", "https://instagram.com/reel/abc/\nnext line", "https://instagram.com/reel/abc/", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FirstURL(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAllowed_TikTokAnyPath(t *testing.T) {
	for _, u := range []string{
		"https://www.tiktok.com/@user/video/7234",
		"https://tiktok.com/",
		"http://vm.tiktok.com/ZMabc/",
		"https://vt.tiktok.com/xyz",
		"https://m.tiktok.com/v/1.html",
		"https://WWW.TIKTOK.COM/@u",
	} {
		assert.True(t, Allowed(u), u)
	}
}

func TestAllowed_InstagramReelsOnly(t *testing.T) {
	assert.True(t, Allowed("https://www.instagram.com/reel/Cx1/"))
	assert.True(t, Allowed("https://instagram.com/REEL/Cx1"))
	assert.True(t, Allowed("https://www.instagram.com/reels/Cx1/"))

	assert.False(t, Allowed("https://www.instagram.com/p/Cx1/"))
	assert.False(t, Allowed("https://www.instagram.com/"))
	assert.False(t, Allowed("https://www.instagram.com/stories/u/1"))
}

func TestAllowed_RejectsEverythingElse(t *testing.T) {
	for _, u := range []string{
		"https://youtube.com/watch?v=1",
		"https://tiktok.com.evil.example/video",
		"https://notinstagram.com/reel/1",
		"ftp://tiktok.com/x",
		"://broken",
		"https://%zz",
		"",
	} {
		assert.False(t, Allowed(u), u)
	}
}

func TestRemainder(t *testing.T) {
	link := "https://www.tiktok.com/@u/video/123"
	assert.Equal(t, "check this", Remainder("check this "+link, link))
	assert.Equal(t, "look   at this\none", Remainder("look "+link+"  at this\none", link))
	assert.Equal(t, "first line\n\nsecond line", Remainder(link+"\nfirst line\n\nsecond line\n", link))
	assert.Equal(t, "", Remainder(link, link))
}
