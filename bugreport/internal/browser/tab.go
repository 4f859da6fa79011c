package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab wraps a Rod page with the setup the capture engine needs: stealth
// applied, navigation completed, viewport known.
type Tab struct {
	Page    *rod.Page
	PageURL string
	PageID  string
	manager *Manager
}

// OpenTab creates a new tab, navigates to the URL with stealth applied,
// and waits for the load event.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, pageID string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Tab{
		Page:    page,
		PageURL: pageURL,
		PageID:  pageID,
		manager: mgr,
	}, nil
}

// AttachTab wraps an already-open page (remote-attach mode) without
// navigating it.
func AttachTab(page *rod.Page, pageURL, pageID string, mgr *Manager) *Tab {
	return &Tab{Page: page, PageURL: pageURL, PageID: pageID, manager: mgr}
}

// FindTab attaches to a page the remote browser already has open at
// pageURL, so capture joins the user's session instead of opening a
// duplicate tab. Returns an error when no such page exists.
func FindTab(ctx context.Context, mgr *Manager, pageURL, pageID string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	for _, page := range pages {
		info, err := page.Context(ctx).Info()
		if err != nil {
			continue
		}
		if info.URL == pageURL {
			return AttachTab(page, pageURL, pageID, mgr), nil
		}
	}
	return nil, fmt.Errorf("browser: no open tab at %s", pageURL)
}

// CurrentURL re-reads the page's location; falls back to the URL the tab
// was opened with when evaluation fails.
func (t *Tab) CurrentURL(ctx context.Context) string {
	res, err := t.Page.Context(ctx).Eval(`() => window.location.href`)
	if err != nil {
		return t.PageURL
	}
	return res.Value.Str()
}

// TargetID identifies the tab at the CDP level. Used to detect the
// capture target going away mid-recording.
func (t *Tab) TargetID() proto.TargetTargetID {
	return t.Page.TargetID
}

// Browser returns the owning browser handle, nil for detached tabs.
func (t *Tab) Browser() *rod.Browser {
	if t.manager == nil {
		return nil
	}
	return t.manager.Browser()
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
