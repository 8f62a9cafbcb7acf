package discovery_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodgekit/social-discovery/internal/discovery"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		base string
		want string
		ok   bool
	}{
		{
			name: "strips tracking params and fragment",
			raw:  "https://facebook.com/page?utm_source=test&ref=home#section",
			want: "https://facebook.com/page?ref=home",
			ok:   true,
		},
		{
			name: "scheme relative",
			raw:  "//www.instagram.com/grandhotel",
			want: "https://www.instagram.com/grandhotel",
			ok:   true,
		},
		{
			name: "relative resolved against base",
			raw:  "/about",
			base: "https://grandhotel.example.com",
			want: "https://grandhotel.example.com/about",
			ok:   true,
		},
		{
			name: "host lowercased and port dropped",
			raw:  "HTTPS://Twitter.COM:443/GrandHotel",
			want: "https://twitter.com/GrandHotel",
			ok:   true,
		},
		{
			name: "fbclid and gclid removed",
			raw:  "https://x.com/hotel?fbclid=abc&gclid=def&lang=en",
			want: "https://x.com/hotel?lang=en",
			ok:   true,
		},
		{
			name: "surviving params keep page order",
			raw:  "https://facebook.com/page?z=1&utm_source=x&a=2",
			want: "https://facebook.com/page?z=1&a=2",
			ok:   true,
		},
		{
			name: "mailto rejected",
			raw:  "mailto:info@grandhotel.com",
			ok:   false,
		},
		{
			name: "javascript rejected",
			raw:  "javascript:void(0)",
			ok:   false,
		},
		{
			name: "empty rejected",
			raw:  "   ",
			ok:   false,
		},
		{
			name: "bare fragment rejected without base",
			raw:  "#top",
			ok:   false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := discovery.NormalizeURL(tc.raw, tc.base)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestDetectPlatform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want string
	}{
		{"https://facebook.com/grandhotel", discovery.PlatformFacebook},
		{"https://www.facebook.com/grandhotel", discovery.PlatformFacebook},
		{"https://instagram.com/grandhotel", discovery.PlatformInstagram},
		{"https://twitter.com/grandhotel", discovery.PlatformX},
		{"https://x.com/grandhotel", discovery.PlatformX},
		{"https://youtube.com/@grandhotel", discovery.PlatformYouTube},
		{"https://youtu.be/dQw4w9WgXcQ", discovery.PlatformYouTube},
		{"https://tiktok.com/@grandhotel", discovery.PlatformTikTok},
		{"https://linkedin.com/company/grandhotel", discovery.PlatformLinkedIn},
		// suffix match must respect the label boundary
		{"https://max.com/shows", ""},
		{"https://notfacebook.com/page", ""},
		{"https://pinterest.com/grandhotel", ""},
	}
	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, discovery.DetectPlatform(tc.url))
		})
	}
}

func TestExtractLinksClassifiesAndDedupes(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<a href="https://facebook.com/grandhotel?utm_source=site">Facebook</a>
		<a href="https://facebook.com/grandhotel">Facebook again</a>
		<a href="//instagram.com/grandhotel">Instagram</a>
		<a href="https://twitter.com/grandhotel">Twitter</a>
		<a href="https://x.com/grandhotel">X</a>
		<a href="https://www.youtube.com/@grandhotel">YouTube</a>
		<a href="https://tiktok.com/@grandhotel">TikTok</a>
		<a href="https://linkedin.com/company/grandhotel">LinkedIn</a>
		<a href="https://pinterest.com/grandhotel">Pinterest</a>
		<a href="/rooms">Rooms</a>
		<a href="mailto:info@grandhotel.com">Email</a>
	</body></html>`

	set := discovery.ExtractLinks(html, "https://grandhotel.com")

	assert.True(t, set.HasPlatformLinks())
	assert.Equal(t, []string{"https://facebook.com/grandhotel"}, set.ByPlatform[discovery.PlatformFacebook])
	assert.Equal(t, []string{"https://instagram.com/grandhotel"}, set.ByPlatform[discovery.PlatformInstagram])
	assert.Equal(t,
		[]string{"https://twitter.com/grandhotel", "https://x.com/grandhotel"},
		set.ByPlatform[discovery.PlatformX],
	)
	assert.Equal(t, []string{"https://www.youtube.com/@grandhotel"}, set.ByPlatform[discovery.PlatformYouTube])
	assert.Equal(t, []string{"https://tiktok.com/@grandhotel"}, set.ByPlatform[discovery.PlatformTikTok])
	assert.Equal(t, []string{"https://linkedin.com/company/grandhotel"}, set.ByPlatform[discovery.PlatformLinkedIn])

	// Pinterest and the site-internal link land in Others; mailto is dropped.
	assert.Contains(t, set.Others, "https://pinterest.com/grandhotel")
	assert.Contains(t, set.Others, "https://grandhotel.com/rooms")
	assert.Len(t, set.Others, 2)
}

func TestLinkSetLinksFlattens(t *testing.T) {
	t.Parallel()

	set := discovery.NewLinkSet()
	set.Add("https://facebook.com/grandhotel")
	set.Add("https://facebook.com/grandhotel")
	set.Add("https://pinterest.com/grandhotel")

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	links := set.Links("https://grandhotel.com", now)
	require.Len(t, links, 2)

	assert.Equal(t, "https://facebook.com/grandhotel", links[0].URL)
	assert.Equal(t, discovery.PlatformFacebook, links[0].Platform)
	assert.Equal(t, "https://grandhotel.com", links[0].SourceURL)
	assert.Equal(t, now, links[0].LastSeen)
	assert.True(t, links[0].Active)

	assert.Equal(t, "https://pinterest.com/grandhotel", links[1].URL)
	assert.Empty(t, links[1].Platform)
}

func TestExtractLinksEmptyDocument(t *testing.T) {
	t.Parallel()

	set := discovery.ExtractLinks("", "https://grandhotel.com")
	assert.False(t, set.HasPlatformLinks())
	assert.Empty(t, set.Others)
}
