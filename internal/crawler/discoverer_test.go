package crawler

import (
	"slices"
	"testing"
)

func TestDiscoverInlineScripts(t *testing.T) {
	t.Parallel()

	html := `<html><head>
		<script>var a=CryptoJS.AES.decrypt(x)</script>
		<script type="text/template"><div>{{ name }}</div></script>
		<script type="text/javascript">
			var b = 2;
		</script>
		<script></script>
		<!-- <script>commented()</script> -->
	</head></html>`

	d := NewDiscoverer()
	got, err := d.Discover(html, "https://example.com/")
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	want := []string{"var a=CryptoJS.AES.decrypt(x)", "var b = 2;"}
	if !slices.Equal(got.Inline, want) {
		t.Errorf("Inline = %q, want %q", got.Inline, want)
	}
	if len(got.External) != 0 {
		t.Errorf("External = %v, want none", got.External)
	}
}

func TestDiscoverExternalScripts(t *testing.T) {
	t.Parallel()

	html := `<html><head>
		<script src="/static/app.js"></script>
		<script src="crypto.MJS"></script>
		<script src="https://cdn.example.net/lib/module.cjs"></script>
		<script src="https://example.com/lib/jquery.min.js"></script>
		<script src="/static/ga.js"></script>
		<script src="/static/style.css"></script>
		<script src="/static/bundle.js?v=3"></script>
		<script src="/static/app.js"></script>
		<!-- <script src="/static/hidden.js"></script> -->
		<script>document.write('<script src="/static/late.js"><\/script>');</script>
	</head></html>`

	d := NewDiscoverer()
	got, err := d.Discover(html, "https://example.com/pages/index.html")
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	want := []string{
		"https://cdn.example.net/lib/module.cjs",
		"https://example.com/pages/crypto.MJS",
		"https://example.com/static/app.js",
		"https://example.com/static/bundle.js?v=3",
		"https://example.com/static/late.js",
	}
	if !slices.Equal(got.External, want) {
		t.Errorf("External = %q, want %q", got.External, want)
	}
}

func TestDiscoverIsIdempotent(t *testing.T) {
	t.Parallel()

	html := `<script src="/b.js"></script><script src="/a.js"></script><script>x()</script>`
	d := NewDiscoverer()

	first, err := d.Discover(html, "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.Discover(html, "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(first.Inline, second.Inline) || !slices.Equal(first.External, second.External) {
		t.Errorf("results differ: %+v vs %+v", first, second)
	}
}

func TestDiscovererAccepts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		blocklist []string
		url       string
		want      bool
	}{
		{"plain js", nil, "https://example.com/app.js", true},
		{"uppercase extension", nil, "https://example.com/APP.JS", true},
		{"blocklisted library", nil, "https://example.com/lib/jquery.min.js", false},
		{"blocklist is case-insensitive", nil, "https://example.com/lib/Bootstrap.bundle.js", false},
		{"blocklist matches query", nil, "https://example.com/loader.js?lib=toast", false},
		{"wrong extension", nil, "https://example.com/app.ts", false},
		{"extension only in query", nil, "https://example.com/app?file=x.js", false},
		{"custom blocklist", []string{"vendor"}, "https://example.com/vendor/app.js", false},
		{"custom blocklist replaces default", []string{"vendor"}, "https://example.com/jquery.js", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var d *Discoverer
			if tt.blocklist != nil {
				d = NewDiscoverer(WithBlocklist(tt.blocklist))
			} else {
				d = NewDiscoverer()
			}
			if got := d.Accepts(tt.url); got != tt.want {
				t.Errorf("Accepts(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}
