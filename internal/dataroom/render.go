package dataroom

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
)

//go:embed templates/panel.html
var templateFS embed.FS

// Templates holds the "panel" template. Page templates that embed the panel
// can add it to their own set with AddParseTree or use RenderHTML.
var Templates = template.Must(template.New("panel.html").
	Funcs(template.FuncMap{"linkURL": LinkURL}).
	ParseFS(templateFS, "templates/panel.html"))

// LinkURL returns u in the form html/template writes into an href: schemes
// other than http, https and mailto become "#", and bytes outside the RFC
// 3986 reserved and unreserved sets are percent-encoded. The result is a
// fixed point of that normalization, so the visible link text and the link
// target render identically.
func LinkURL(u string) string {
	if scheme, _, ok := strings.Cut(u, ":"); ok && !strings.Contains(scheme, "/") {
		if !strings.EqualFold(scheme, "http") && !strings.EqualFold(scheme, "https") && !strings.EqualFold(scheme, "mailto") {
			return "#"
		}
	}

	var b strings.Builder
	written := 0
	for i := 0; i < len(u); i++ {
		c := u[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
			continue
		case strings.IndexByte("!#$&*+,/:;=?@[]-._~", c) >= 0:
			continue
		case c == '%' && i+2 < len(u) && isHex(u[i+1]) && isHex(u[i+2]):
			continue
		}
		b.WriteString(u[written:i])
		fmt.Fprintf(&b, "%%%02x", c)
		written = i + 1
	}
	if written == 0 {
		return u
	}
	b.WriteString(u[written:])
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

// Render writes the HTML fragment for v.
func Render(w io.Writer, v View) error {
	return Templates.ExecuteTemplate(w, "panel", v)
}

// RenderHTML renders v into a trusted fragment for inclusion in a page.
func RenderHTML(v View) (template.HTML, error) {
	var buf bytes.Buffer
	if err := Render(&buf, v); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// Render writes the panel's current view.
func (p *Panel) Render(w io.Writer) error {
	return Render(w, p.View())
}
