// ABOUTME: Chrome-backed portal automation using the DevTools protocol
// ABOUTME: Drives the SMS login flow, intercepts the phone list, and captures tokens

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/markalston/portal-gateway/config"
	"github.com/markalston/portal-gateway/models"
)

// PortalPage holds the selectors and paths of the portal's login pages
type PortalPage struct {
	TaxIDInput        string
	TaxIDSubmit       string
	PhoneOption       string
	PhoneSubmit       string
	CodeInput         string
	CodeSubmit        string
	CodeError         string
	PhoneListPath     string
	AuthenticatedPath string
	AccessTokenKey    string
	RefreshTokenKey   string
	// DeviceHeaders maps a localStorage or cookie name to the request header it is replayed as
	DeviceHeaders map[string]string
}

// DefaultPortalPage matches the portal's current login markup
func DefaultPortalPage() PortalPage {
	return PortalPage{
		TaxIDInput:        `input[name="documento"]`,
		TaxIDSubmit:       `button[type="submit"]`,
		PhoneOption:       `[data-testid="phone-option"]`,
		PhoneSubmit:       `button[data-testid="send-code"]`,
		CodeInput:         `input[name="codigo"]`,
		CodeSubmit:        `button[data-testid="verify-code"]`,
		CodeError:         `[data-testid="code-error"]`,
		PhoneListPath:     "/otp/phones",
		AuthenticatedPath: "/home",
		AccessTokenKey:    "access_token",
		RefreshTokenKey:   "refresh_token",
		DeviceHeaders: map[string]string{
			"device_id":  "X-Device-Id",
			"client_key": "X-Client-Key",
		},
	}
}

var blockMarkers = []string{
	"access denied",
	"request unsuccessful",
	"you have been blocked",
	"reference #",
	"incapsula incident",
}

// isBlockPage reports whether the rendered page is a bot-defense denial
func isBlockPage(title, text string) bool {
	hay := strings.ToLower(title + "\n" + text)
	for _, m := range blockMarkers {
		if strings.Contains(hay, m) {
			return true
		}
	}
	return false
}

// botCookieValidated reports whether the bot-defense cookie carries the
// validated sensor marker
func botCookieValidated(value string) bool {
	return strings.Contains(value, "~0~")
}

// parsePhoneList accepts the shapes the phone-list endpoint has returned:
// a bare array of strings, an array of objects, or either wrapped in "phones".
func parsePhoneList(body []byte) ([]string, error) {
	var wrapped struct {
		Phones json.RawMessage `json:"phones"`
	}
	raw := json.RawMessage(body)
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Phones) > 0 {
		raw = wrapped.Phones
	}

	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return compactPhones(plain), nil
	}

	var objects []struct {
		Masked *string `json:"masked"`
		Number *string `json:"number"`
		Phone  *string `json:"phone"`
	}
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil, fmt.Errorf("unrecognised phone list: %w", err)
	}
	out := make([]string, 0, len(objects))
	for _, o := range objects {
		switch {
		case o.Masked != nil:
			out = append(out, *o.Masked)
		case o.Number != nil:
			out = append(out, *o.Number)
		case o.Phone != nil:
			out = append(out, *o.Phone)
		}
	}
	return compactPhones(out), nil
}

func compactPhones(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ChromeAutomation launches one Chrome instance per login
type ChromeAutomation struct {
	loginURL  string
	headless  bool
	botCookie string
	botWait   time.Duration
	page      PortalPage

	// proxy is set when PORTAL_ALL_PROXY is; proxyErr when it could not be parsed
	proxy    *browserProxy
	proxyErr error
}

// NewChromeAutomation configures Chrome from cfg. The browser runs headful
// unless PORTAL_HEADLESS is set; the bot defense scores headless sessions lower.
// With PORTAL_ALL_PROXY the browser egresses through the same jump host as
// the API client.
func NewChromeAutomation(cfg *config.Config, page PortalPage) *ChromeAutomation {
	a := &ChromeAutomation{
		loginURL:  cfg.PortalBaseURL + cfg.PortalLoginPath,
		headless:  cfg.PortalHeadless,
		botCookie: cfg.PortalBotCookie,
		botWait:   cfg.PortalBotWait,
		page:      page,
	}
	if cfg.PortalAllProxy != "" {
		a.proxy, a.proxyErr = newBrowserProxy(cfg.PortalAllProxy)
		if a.proxyErr != nil {
			slog.Error("Browser proxy misconfigured, logins will fail", "error", a.proxyErr)
		}
	}
	return a
}

// allocatorOptions builds Chrome's flags. A configured but unusable proxy is
// an error rather than a silent fallback to direct egress.
func (a *ChromeAutomation) allocatorOptions() ([]chromedp.ExecAllocatorOption, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", a.headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 768),
	)
	if a.proxyErr != nil {
		return nil, a.proxyErr
	}
	if a.proxy != nil {
		server, err := a.proxy.Server()
		if err != nil {
			return nil, err
		}
		// resolve names on the far side of the tunnel too
		opts = append(opts,
			chromedp.ProxyServer(server),
			chromedp.Flag("host-resolver-rules", "MAP * ~NOTFOUND , EXCLUDE 127.0.0.1"),
		)
	}
	return opts, nil
}

type chromeSession struct {
	ctx       context.Context
	cancel    context.CancelFunc
	page      PortalPage
	closeOnce sync.Once
}

func (a *ChromeAutomation) Start(ctx context.Context, owner string) (AutomationSession, []string, error) {
	opts, err := a.allocatorOptions()
	if err != nil {
		return nil, nil, err
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		ctx:  browserCtx,
		page: a.page,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}

	phones, err := a.start(s, owner)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, phones, nil
}

func (a *ChromeAutomation) start(s *chromeSession, owner string) ([]string, error) {
	phoneBodies := make(chan []byte, 1)
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || !strings.Contains(resp.Response.URL, a.page.PhoneListPath) {
			return
		}
		go func(id network.RequestID) {
			var body []byte
			err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
				b, err := network.GetResponseBody(id).Do(ctx)
				body = b
				return err
			}))
			if err != nil {
				slog.Debug("Failed to read phone list body", "error", err)
				return
			}
			select {
			case phoneBodies <- body:
			default:
			}
		}(resp.RequestID)
	})

	if err := chromedp.Run(s.ctx, network.Enable(), chromedp.Navigate(a.loginURL)); err != nil {
		return nil, fmt.Errorf("failed to open login page: %w", err)
	}
	if err := s.checkBlocked(); err != nil {
		return nil, err
	}

	a.settleBotDefense(s)

	if err := chromedp.Run(s.ctx,
		chromedp.WaitVisible(a.page.TaxIDInput, chromedp.ByQuery),
		chromedp.Click(a.page.TaxIDInput, chromedp.ByQuery),
	); err != nil {
		return nil, s.blockedOr(fmt.Errorf("tax id field not found: %w", err))
	}
	if err := s.typeHuman(a.page.TaxIDInput, owner); err != nil {
		return nil, err
	}
	humanPause(300, 900)
	if err := chromedp.Run(s.ctx, chromedp.Click(a.page.TaxIDSubmit, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("failed to submit tax id: %w", err)
	}

	select {
	case body := <-phoneBodies:
		return parsePhoneList(body)
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	case <-time.After(a.botWait + 30*time.Second):
		return nil, s.blockedOr(fmt.Errorf("phone list never arrived"))
	}
}

// settleBotDefense moves the pointer around until the bot cookie validates or
// the wait elapses. An unvalidated cookie is not fatal; the portal decides.
func (a *ChromeAutomation) settleBotDefense(s *chromeSession) {
	deadline := time.Now().Add(a.botWait)
	for time.Now().Before(deadline) {
		x := 100 + rand.Float64()*1000
		y := 100 + rand.Float64()*500
		if err := chromedp.Run(s.ctx, chromedp.MouseEvent(input.MouseMoved, x, y)); err != nil {
			return
		}
		if v, ok := s.cookie(a.botCookie); ok && botCookieValidated(v) {
			slog.Debug("Bot-defense cookie validated")
			return
		}
		humanPause(200, 700)
	}
	slog.Warn("Bot-defense cookie not validated before wait elapsed", "cookie", a.botCookie)
}

func (s *chromeSession) SelectPhone(ctx context.Context, phone string) error {
	var picked struct {
		Index int  `json:"index"`
		Exact bool `json:"exact"`
	}
	script := fmt.Sprintf(`(function(sel, want) {
		const opts = Array.from(document.querySelectorAll(sel));
		if (opts.length === 0) return {index: -1, exact: false};
		let idx = opts.findIndex(o => o.innerText.trim() === want);
		const exact = idx >= 0;
		if (!exact) idx = 0;
		opts[idx].click();
		return {index: idx, exact: exact};
	})(%q, %q)`, s.page.PhoneOption, phone)

	if err := chromedp.Run(s.ctx, chromedp.Evaluate(script, &picked)); err != nil {
		return fmt.Errorf("failed to select phone: %w", err)
	}
	if picked.Index < 0 {
		return s.blockedOr(fmt.Errorf("no phone options on page"))
	}
	if !picked.Exact {
		slog.Warn("Requested phone not found on page, using first option")
	}
	humanPause(300, 800)
	if err := chromedp.Run(s.ctx, chromedp.Click(s.page.PhoneSubmit, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to request code: %w", err)
	}
	return s.checkBlocked()
}

func (s *chromeSession) SubmitCode(ctx context.Context, code string) (*models.TokenSet, error) {
	if err := chromedp.Run(s.ctx,
		chromedp.WaitVisible(s.page.CodeInput, chromedp.ByQuery),
		chromedp.SetValue(s.page.CodeInput, "", chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("code field not found: %w", err)
	}
	if err := s.typeHuman(s.page.CodeInput, code); err != nil {
		return nil, err
	}
	if err := chromedp.Run(s.ctx, chromedp.Click(s.page.CodeSubmit, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("failed to submit code: %w", err)
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		case <-ticker.C:
		}

		var (
			location string
			rejected bool
		)
		if err := chromedp.Run(s.ctx,
			chromedp.Location(&location),
			chromedp.Evaluate(fmt.Sprintf(`!!document.querySelector(%q)`, s.page.CodeError), &rejected),
		); err != nil {
			return nil, fmt.Errorf("failed to poll login result: %w", err)
		}
		if rejected {
			return nil, models.ValidationErrorf("code rejected by portal")
		}
		if strings.Contains(location, s.page.AuthenticatedPath) {
			return s.captureTokens()
		}
	}
}

// captureTokens collects tokens from localStorage first and cookies second
func (s *chromeSession) captureTokens() (*models.TokenSet, error) {
	var storageJSON string
	if err := chromedp.Run(s.ctx, chromedp.Evaluate(`JSON.stringify(Object.assign({}, window.localStorage))`, &storageJSON)); err != nil {
		return nil, fmt.Errorf("failed to read local storage: %w", err)
	}
	storage := map[string]string{}
	if err := json.Unmarshal([]byte(storageJSON), &storage); err != nil {
		return nil, fmt.Errorf("failed to parse local storage: %w", err)
	}

	var cookies []*network.Cookie
	if err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	})); err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	jar := make(map[string]string, len(cookies))
	for _, c := range cookies {
		jar[c.Name] = c.Value
	}

	return extractTokens(s.page, storage, jar), nil
}

// extractTokens builds a token set from captured storage and cookie values
func extractTokens(page PortalPage, storage, cookies map[string]string) *models.TokenSet {
	lookup := func(key string) string {
		if v := storage[key]; v != "" {
			return strings.Trim(v, `"`)
		}
		return cookies[key]
	}

	tokens := &models.TokenSet{
		AccessToken:  lookup(page.AccessTokenKey),
		RefreshToken: lookup(page.RefreshTokenKey),
	}
	for key, header := range page.DeviceHeaders {
		if v := lookup(key); v != "" {
			if tokens.DeviceKeys == nil {
				tokens.DeviceKeys = make(map[string]string)
			}
			tokens.DeviceKeys[header] = v
		}
	}
	return tokens
}

func (s *chromeSession) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

func (s *chromeSession) cookie(name string) (string, bool) {
	var cookies []*network.Cookie
	err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return "", false
	}
	for _, c := range cookies {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

func (s *chromeSession) checkBlocked() error {
	var title, text string
	if err := chromedp.Run(s.ctx,
		chromedp.Title(&title),
		chromedp.Evaluate(`document.body ? document.body.innerText.slice(0, 2000) : ""`, &text),
	); err != nil {
		return nil
	}
	if isBlockPage(title, text) {
		return fmt.Errorf("%w: %s", models.ErrPortalBlocked, strings.TrimSpace(title))
	}
	return nil
}

// blockedOr prefers a block-page diagnosis over the generic step error
func (s *chromeSession) blockedOr(err error) error {
	if blocked := s.checkBlocked(); blocked != nil {
		return blocked
	}
	return err
}

// typeHuman types text one key at a time with jittered delays
func (s *chromeSession) typeHuman(sel, text string) error {
	for _, r := range text {
		if err := chromedp.Run(s.ctx, chromedp.SendKeys(sel, string(r), chromedp.ByQuery)); err != nil {
			return fmt.Errorf("failed to type into %s: %w", sel, err)
		}
		humanPause(60, 220)
	}
	return nil
}

func humanPause(minMS, maxMS int) {
	time.Sleep(time.Duration(minMS+rand.IntN(maxMS-minMS+1)) * time.Millisecond)
}
