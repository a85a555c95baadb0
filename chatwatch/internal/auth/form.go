package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zenamons-s/avito-sream/chatwatch/internal/surface"
)

var (
	loginCriteria = Criteria{
		Require: []Capability{Visible, Editable},
		Texts:   []string{"телефон", "почта", "логин", "email", "phone", "login", "username"},
		Types:   []string{"tel", "email", "text", ""},
		Tags:    []string{"input"},
	}
	passwordCriteria = Criteria{
		Require: []Capability{Visible, Editable},
		Texts:   []string{"пароль", "password"},
		Types:   []string{"password"},
		Tags:    []string{"input"},
	}
	submitCriteria = Criteria{
		Require: []Capability{Visible, Clickable, MatchesText},
		Texts:   []string{"войти", "вход", "продолжить", "log in", "sign in", "continue"},
		Tags:    []string{"button"},
	}
)

// candidatesJS tags every interactive element with a stable attribute and
// describes it for Rank.
const candidatesJS = `() => {
  const out = [];
  const els = document.querySelectorAll('input, textarea, button, a, [role="button"]');
  let i = 0;
  for (const el of els) {
    const r = el.getBoundingClientRect();
    const st = getComputedStyle(el);
    const tag = el.tagName.toLowerCase();
    const type = (el.getAttribute('type') || '').toLowerCase();
    const visible = r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none';
    const editable = !el.disabled && !el.readOnly &&
      (tag === 'textarea' || (tag === 'input' && !['button', 'submit', 'checkbox', 'radio', 'hidden'].includes(type)));
    const clickable = !el.disabled &&
      (tag === 'button' || tag === 'a' || type === 'submit' || type === 'button' || el.getAttribute('role') === 'button');
    const label = tag === 'input' || tag === 'textarea' ? '' : el.innerText;
    const text = [label, el.placeholder, el.getAttribute('aria-label'), el.name, el.getAttribute('data-marker')]
      .filter(Boolean).join(' ').trim();
    el.setAttribute('data-chatwatch-cand', String(i));
    out.push({ selector: '[data-chatwatch-cand="' + i + '"]', tag, type, text, visible, clickable, editable });
    i++;
  }
  return out;
}`

func scan(ctx context.Context, s surface.Surface) ([]Element, error) {
	raw, err := s.Eval(ctx, candidatesJS)
	if err != nil {
		return nil, fmt.Errorf("auth: scan form: %w", err)
	}
	var els []Element
	if err := json.Unmarshal(raw, &els); err != nil {
		return nil, fmt.Errorf("auth: parse form scan: %w", err)
	}
	return els, nil
}

// fillForm types the credentials and submits. Two-step forms that only
// reveal the password after the login is submitted are handled by one
// extra scan.
func (a *Authenticator) fillForm(ctx context.Context, s surface.Surface) error {
	els, err := scan(ctx, s)
	if err != nil {
		return err
	}
	login, ok := Rank(els, loginCriteria)
	if !ok {
		return errors.New("auth: no login field")
	}
	if err := s.Type(ctx, login.Selector, a.cfg.Login); err != nil {
		return fmt.Errorf("auth: type login: %w", err)
	}

	pass, ok := Rank(els, passwordCriteria)
	if !ok {
		if err := a.submit(ctx, s, els); err != nil {
			return err
		}
		select {
		case <-time.After(a.cfg.CheckInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
		if els, err = scan(ctx, s); err != nil {
			return err
		}
		if pass, ok = Rank(els, passwordCriteria); !ok {
			return errors.New("auth: no password field")
		}
	}
	if err := s.Type(ctx, pass.Selector, a.cfg.Password); err != nil {
		return fmt.Errorf("auth: type password: %w", err)
	}
	return a.submit(ctx, s, els)
}

func (a *Authenticator) submit(ctx context.Context, s surface.Surface, els []Element) error {
	btn, ok := Rank(els, submitCriteria)
	if !ok {
		return errors.New("auth: no submit button")
	}
	if err := s.Click(ctx, btn.Selector); err != nil {
		return fmt.Errorf("auth: submit: %w", err)
	}
	return nil
}
