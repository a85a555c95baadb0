package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-rod/rod/lib/proto"
)

// LoadCookies imports cookies exported by SaveCookies. A missing file is
// not an error: the session simply starts logged out.
func (s *Session) LoadCookies(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("browser: read cookies: %w", err)
	}
	var cookies []*proto.NetworkCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return fmt.Errorf("browser: parse cookies %s: %w", path, err)
	}
	p, err := s.pageCtx(ctx)
	if err != nil {
		return err
	}
	params := proto.CookiesToParams(cookies)
	if len(params) == 0 {
		return nil
	}
	if err := p.SetCookies(params); err != nil {
		return fmt.Errorf("browser: set cookies: %w", err)
	}
	s.logger.Info("browser: cookies loaded", "count", len(params))
	return nil
}

// SaveCookies exports every cookie of the session to path (mode 0600).
func (s *Session) SaveCookies(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	if _, err := s.pageCtx(ctx); err != nil {
		return err
	}
	cookies, err := s.browser.Context(ctx).GetCookies()
	if err != nil {
		return fmt.Errorf("browser: get cookies: %w", err)
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("browser: marshal cookies: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("browser: cookies dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("browser: write cookies: %w", err)
	}
	return nil
}
