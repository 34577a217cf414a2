package monitor

import "testing"

func TestNormalizeStripsMarkupAndNoise(t *testing.T) {
	t.Parallel()
	const page = `<html><head>
<style>body { color: red }</style>
<script>var csrf = "abc123";</script>
</head><body>
  <h1>News</h1>
  <p>Something   happened
today.</p>
<noscript>enable js</noscript>
</body></html>`

	got := Normalize(page)
	want := "News Something happened today."
	if got != want {
		t.Fatalf("Normalize = %q, want %q", got, want)
	}
}

func TestNormalizeIsStableAcrossScriptChurn(t *testing.T) {
	t.Parallel()
	a := Normalize(`<body><script>nonce=1</script><p>stable text</p></body>`)
	b := Normalize(`<body><script>nonce=999</script><p>stable   text</p></body>`)
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("script/whitespace churn changed the fingerprint")
	}
}

func TestNormalizeNonHTMLPassthrough(t *testing.T) {
	t.Parallel()
	got := Normalize("plain\n  text   feed")
	if got != "plain text feed" {
		t.Fatalf("Normalize = %q", got)
	}
}
