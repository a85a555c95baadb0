package auth

import "testing"

func TestRank(t *testing.T) {
	els := []Element{
		{Selector: "#hidden", Tag: "button", Text: "Войти", Clickable: true},
		{Selector: "#ad", Tag: "a", Text: "Разместить объявление", Clickable: true, Visible: true},
		{Selector: "#continue", Tag: "button", Text: "Продолжить", Clickable: true, Visible: true},
		{Selector: "#login", Tag: "button", Text: "Войти", Clickable: true, Visible: true},
		{Selector: "#phone", Tag: "input", Type: "tel", Text: "Телефон или почта", Visible: true, Editable: true},
		{Selector: "#search", Tag: "input", Type: "text", Text: "Поиск по объявлениям", Visible: true, Editable: true},
		{Selector: "#pass", Tag: "input", Type: "password", Text: "Пароль", Visible: true, Editable: true},
	}
	tests := []struct {
		name string
		c    Criteria
		want string
		ok   bool
	}{
		{"submit prefers earlier text", submitCriteria, "#login", true},
		{"login field", loginCriteria, "#phone", true},
		{"password field", passwordCriteria, "#pass", true},
		{"nothing matches", Criteria{Require: []Capability{MatchesText}, Texts: []string{"зарегистрироваться"}}, "", false},
		{"no criteria picks first", Criteria{}, "#hidden", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Rank(els, tt.c)
			if ok != tt.ok || got.Selector != tt.want {
				t.Errorf("Rank: got (%q, %v), want (%q, %v)", got.Selector, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRank_TiesKeepDocumentOrder(t *testing.T) {
	els := []Element{
		{Selector: "#a", Tag: "button", Text: "Войти", Clickable: true, Visible: true},
		{Selector: "#b", Tag: "button", Text: "Войти", Clickable: true, Visible: true},
	}
	got, _ := Rank(els, submitCriteria)
	if got.Selector != "#a" {
		t.Errorf("Rank: got %q, want #a", got.Selector)
	}
}

func TestCapabilities(t *testing.T) {
	e := Element{Text: "Войти через Госуслуги", Clickable: true, Visible: true}
	caps := Capabilities(e, Criteria{Texts: []string{"войти"}})
	want := []Capability{Clickable, Visible, MatchesText}
	if len(caps) != len(want) {
		t.Fatalf("Capabilities: got %v, want %v", caps, want)
	}
	for i := range want {
		if caps[i] != want[i] {
			t.Errorf("Capabilities: got %v, want %v", caps, want)
		}
	}
}
