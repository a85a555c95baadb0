package target

import "testing"

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClassify(t *testing.T) {
	c := testClassifier(t)
	tests := []struct {
		in   string
		want Kind
	}{
		{"", KindNone},
		{"   ", KindNone},
		{"about:blank", KindNone},
		{"not a url", KindNone},
		{"/profile/messenger/channel/abc123", KindChannel},
		{"https://www.avito.ru/profile/messenger/channel/abc123", KindChannel},
		{"https://www.avito.ru/profile/messenger/channel/abc123/", KindChannel},
		{"https://www.avito.ru/profile/messenger/channel/abc123?q=x", KindChannel},
		{"https://www.avito.ru/profile/messenger/channel/abc123?utm=1#bottom", KindChannel},
		{"https://m.avito.ru/profile/messenger/channel/u2i-42", KindChannel},
		{"https://www.avito.ru/profile/messenger?q=bike", KindSearch},
		{"https://www.avito.ru/profile/messenger?q=", KindSearch},
		{"/profile/messenger/?q=sofa&page=2", KindSearch},
		{"https://www.avito.ru/profile/messenger", KindMessengerRoot},
		{"https://www.avito.ru/profile/messenger/", KindMessengerRoot},
		{"https://www.avito.ru/profile/messenger?folder=archive", KindMessengerRoot},
		{"https://www.avito.ru/profile/messenger/channel/", KindUnrelated},
		{"https://www.avito.ru/profile/messenger/channel/a/b", KindUnrelated},
		{"https://www.avito.ru/moskva/avtomobili", KindUnrelated},
		{"https://example.com/profile/messenger/channel/abc", KindUnrelated},
	}
	for _, tt := range tests {
		got := c.Classify(tt.in)
		if got.Kind != tt.want {
			t.Errorf("Classify(%q): got %s, want %s", tt.in, got.Kind, tt.want)
		}
	}
}

func TestClassify_NormalizesRelative(t *testing.T) {
	c := testClassifier(t)
	got := c.Classify("/profile/messenger/channel/abc123")
	want := "https://www.avito.ru/profile/messenger/channel/abc123"
	if got.Location != want {
		t.Errorf("Location: got %q, want %q", got.Location, want)
	}
	if c.Classify("").Location != "" {
		t.Error("none classification must carry no location")
	}
}

func TestNormalize_LeavesAbsoluteAlone(t *testing.T) {
	c := testClassifier(t)
	in := "https://www.avito.ru/profile/messenger"
	if got := c.Normalize(" " + in + " "); got != in {
		t.Errorf("Normalize: got %q, want %q", got, in)
	}
	if got := c.Normalize("//evil.example/x"); got != "//evil.example/x" {
		t.Errorf("Normalize protocol-relative: got %q", got)
	}
}

func TestNew_RejectsBadOrigin(t *testing.T) {
	for _, o := range []string{"ftp://avito.ru", "avito.ru", "https://"} {
		if _, err := New(o); err == nil {
			t.Errorf("New(%q): expected error", o)
		}
	}
}

func TestSameChannel(t *testing.T) {
	c := testClassifier(t)
	a := "/profile/messenger/channel/abc"
	if !c.SameChannel(a, "https://www.avito.ru/profile/messenger/channel/abc/?x=1") {
		t.Error("SameChannel: expected equal")
	}
	if c.SameChannel(a, "/profile/messenger/channel/def") {
		t.Error("SameChannel: expected different")
	}
	if c.SameChannel(a, "/profile/messenger") {
		t.Error("SameChannel: root is never the same channel")
	}
}

func TestLoginLocation(t *testing.T) {
	c := testClassifier(t)
	if !c.LoginLocation("https://www.avito.ru/#login?next=%2Fprofile") {
		t.Error("LoginLocation: #login not detected")
	}
	if c.LoginLocation("https://www.avito.ru/profile/messenger/channel/abc") {
		t.Error("LoginLocation: channel flagged as login")
	}
	c2, _ := New("", WithLoginPatterns([]string{"/signin"}))
	if !c2.LoginLocation("https://www.avito.ru/signin") || c2.LoginLocation("https://www.avito.ru/#login") {
		t.Error("WithLoginPatterns: patterns not replaced")
	}
}

func TestIsGenericTitle(t *testing.T) {
	tests := []struct {
		title string
		want  bool
	}{
		{"Поддержка Авито", true},
		{"  avito support ", true},
		{"AVITO", true},
		{"Иван — велосипед Stels", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsGenericTitle(tt.title, DefaultGenericTitles); got != tt.want {
			t.Errorf("IsGenericTitle(%q): got %v, want %v", tt.title, got, tt.want)
		}
	}
}
