package portal

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LoginForm is the scraped state of the portal's login page.
type LoginForm struct {
	// SubmitURL is the form's resolved action, or the page URL when the
	// form has no action.
	SubmitURL string

	// Fields holds every non-submit input, name to value, hidden
	// CSRF-style tokens included.
	Fields url.Values

	// CaptchaURL is the absolute captcha image URL, empty when the page
	// has no recognizable captcha <img>.
	CaptchaURL string
}

// ParseLoginForm extracts the first <form> of a login page. Pure function
// of the HTML and the page URL so it can be exercised with static fixtures.
func ParseLoginForm(html []byte, pageURL string) (*LoginForm, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("portal: parse page url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("portal: parse login page: %w", err)
	}

	form := doc.Find("form").First()
	if form.Length() == 0 {
		return nil, ErrFormNotFound
	}

	fields := url.Values{}
	form.Find("input").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if name == "" || input.AttrOr("type", "") == "submit" {
			return
		}
		fields.Set(name, input.AttrOr("value", ""))
	})

	submitURL := pageURL
	if action := strings.TrimSpace(form.AttrOr("action", "")); action != "" {
		if resolved, err := base.Parse(action); err == nil {
			submitURL = resolved.String()
		}
	}

	captchaURL := ""
	if img := doc.Find(`img[src*="captcha"]`).First(); img.Length() > 0 {
		if resolved, err := base.Parse(img.AttrOr("src", "")); err == nil {
			captchaURL = resolved.String()
		}
	}

	return &LoginForm{SubmitURL: submitURL, Fields: fields, CaptchaURL: captchaURL}, nil
}
