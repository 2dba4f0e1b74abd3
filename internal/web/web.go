// Package web renders the portal's server-side pages: the organization
// dashboard, the reviewer briefing, the reviewer data room and the donor
// receipt viewer. Every page shares one layout carrying the brand name and
// the navigation.
//
// The data-room page waits up to portal.render_wait for the panel to settle
// so most visitors get the finished document list in the first response.
// When the fetch is slower the page ships the loading state together with a
// stream URL, and static/dataroom.js swaps in the settled panel as it
// arrives over server-sent events.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sparkcreatives/spark-portal/internal/config"
	"github.com/sparkcreatives/spark-portal/internal/dataroom"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// ReceiptPath is the API route the receipt viewer embeds.
const ReceiptPath = "/api/v1/donations/%s/receipt.pdf"

const dataRoomScript = "/static/dataroom.js"

var pageNames = []string{"dashboard", "briefing", "dataroom", "receipt", "notfound"}

type navLink struct {
	Href  string
	Label string
}

// page is the data every page template receives.
type page struct {
	Brand   string
	Title   string
	Nav     []navLink
	Scripts []string

	Org      string
	OrgTitle string
	Metrics  []Metric
	Funds    []Metric

	Panel     template.HTML
	StreamURL string

	DonationID string
	ReceiptURL string

	Message string
}

// Handler serves the portal pages.
type Handler struct {
	portal  config.PortalConfig
	fetcher dataroom.Fetcher
	pages   map[string]*template.Template
}

// NewHandler parses the page templates. fetcher loads data-room listings for
// the panel.
func NewHandler(portal config.PortalConfig, fetcher dataroom.Fetcher) (*Handler, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &Handler{portal: portal, fetcher: fetcher, pages: pages}, nil
}

// Register mounts the page routes and the static assets on r.
func (h *Handler) Register(r gin.IRouter) {
	static, _ := fs.Sub(staticFS, "static")
	r.StaticFS("/static", http.FS(static))

	r.GET("/", h.Home)
	r.GET("/dashboard", h.Dashboard)
	r.GET("/dashboard/:org", h.Dashboard)
	r.GET("/reviewer/:org/briefing", h.Briefing)
	r.GET("/reviewer/:org/data-room", h.DataRoom)
	r.GET("/reviewer/:org/data-room/stream", h.DataRoomStream)
	r.GET("/donations/:donationId/receipt", h.Receipt)
}

// TitleOrg formats an organization identifier for a heading: "north-star"
// becomes "North-Star".
func TitleOrg(org string) string {
	return cases.Title(language.Und).String(org)
}

func (h *Handler) newPage(title string) page {
	def := url.PathEscape(h.portal.DefaultOrg)
	return page{
		Brand: h.portal.BrandName,
		Title: title,
		Nav: []navLink{
			{Href: "/reviewer/" + def + "/briefing", Label: "Reviewer Briefing"},
			{Href: "/reviewer/" + def + "/data-room", Label: "Data Room"},
			{Href: "/dashboard/" + def, Label: "Org Dashboard"},
		},
	}
}

// orgPage resolves the :org parameter and prepares the page. It writes a
// 404 and returns false for malformed identifiers.
func (h *Handler) orgPage(c *gin.Context, title string) (page, bool) {
	org := dataroom.ResolveOrg(c.Param("org"), h.portal.DefaultOrg)
	if !dataroom.ValidOrg(org) {
		h.notFound(c, "Unknown organization.")
		return page{}, false
	}
	p := h.newPage(title)
	p.Org = org
	p.OrgTitle = TitleOrg(org)
	return p, true
}

func (h *Handler) render(c *gin.Context, status int, name string, p page) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(status)
	if err := h.pages[name].ExecuteTemplate(c.Writer, "layout", p); err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to render page", "page", name, "error", err)
	}
}

func (h *Handler) notFound(c *gin.Context, message string) {
	p := h.newPage("Not found")
	p.Message = message
	h.render(c, http.StatusNotFound, "notfound", p)
}

// NoRoute renders the not-found page for unmatched page paths.
func (h *Handler) NoRoute(c *gin.Context) {
	h.notFound(c, "The page you requested does not exist.")
}

// Home redirects to the default organization's dashboard.
func (h *Handler) Home(c *gin.Context) {
	c.Redirect(http.StatusFound, "/dashboard/"+url.PathEscape(h.portal.DefaultOrg))
}

// Dashboard handles GET /dashboard/:org
func (h *Handler) Dashboard(c *gin.Context) {
	p, ok := h.orgPage(c, "Dashboard")
	if !ok {
		return
	}
	p.Metrics = DashboardMetrics()
	h.render(c, http.StatusOK, "dashboard", p)
}

// Briefing handles GET /reviewer/:org/briefing
func (h *Handler) Briefing(c *gin.Context) {
	p, ok := h.orgPage(c, "Reviewer Briefing")
	if !ok {
		return
	}
	p.Metrics = BriefingMetrics()
	p.Funds = FundsByDesignation()
	h.render(c, http.StatusOK, "briefing", p)
}

// DataRoom handles GET /reviewer/:org/data-room
func (h *Handler) DataRoom(c *gin.Context) {
	p, ok := h.orgPage(c, "Data Room")
	if !ok {
		return
	}

	panel := dataroom.NewPanel(h.fetcher, h.portal.DefaultOrg)
	defer panel.Unmount()
	panel.Mount(p.Org)

	ctx := c.Request.Context()
	if h.portal.RenderWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.portal.RenderWait)
		defer cancel()
	}
	view, err := panel.Await(ctx)
	if err != nil {
		slog.DebugContext(c.Request.Context(), "rendering data room before the panel settled",
			"org", p.Org, "error", err)
	}

	html, err := dataroom.RenderHTML(view)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to render data-room panel", "org", p.Org, "error", err)
		c.String(http.StatusInternalServerError, "internal server error")
		return
	}
	p.Panel = html
	if view.Loading() {
		p.StreamURL = "/reviewer/" + url.PathEscape(p.Org) + "/data-room/stream"
		p.Scripts = []string{dataRoomScript}
	}
	c.Header("Cache-Control", "no-store")
	h.render(c, http.StatusOK, "dataroom", p)
}

var errStreamTimeout = errors.New("data-room stream timed out")

// panelEvent is the payload of one "panel" server-sent event.
type panelEvent struct {
	State string `json:"state"`
	HTML  string `json:"html"`
}

// DataRoomStream handles GET /reviewer/:org/data-room/stream. It runs a
// fresh panel for the organization and sends one "panel" event per state
// transition, ending the stream once the panel settles or the client goes
// away. A fetch still pending after portal.stream_timeout closes the stream
// with an error event.
func (h *Handler) DataRoomStream(c *gin.Context) {
	org := dataroom.ResolveOrg(c.Param("org"), h.portal.DefaultOrg)
	if !dataroom.ValidOrg(org) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown organization"})
		return
	}

	panel := dataroom.NewPanel(h.fetcher, h.portal.DefaultOrg)
	defer panel.Unmount()
	panel.Mount(org)
	views, stop := panel.Subscribe()
	defer stop()

	var expired <-chan time.Time
	if h.portal.StreamTimeout > 0 {
		timer := time.NewTimer(h.portal.StreamTimeout)
		defer timer.Stop()
		expired = timer.C
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	ctx := c.Request.Context()
	send := func(v dataroom.View) bool {
		var buf strings.Builder
		if err := dataroom.Render(&buf, v); err != nil {
			slog.ErrorContext(ctx, "failed to render data-room panel", "org", org, "error", err)
			return false
		}
		c.SSEvent("panel", panelEvent{State: v.State.String(), HTML: buf.String()})
		return true
	}
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-expired:
			slog.WarnContext(ctx, "data-room stream timed out", "org", org, "timeout", h.portal.StreamTimeout)
			send(dataroom.View{Org: org, State: dataroom.StateError, Err: errStreamTimeout})
			return false
		case v, ok := <-views:
			if !ok {
				return false
			}
			return send(v) && v.Loading()
		}
	})
}

// Receipt handles GET /donations/:donationId/receipt
func (h *Handler) Receipt(c *gin.Context) {
	id := c.Param("donationId")
	p := h.newPage("Receipt")
	p.DonationID = id
	p.ReceiptURL = strings.TrimRight(h.portal.APIBaseURL, "/") + fmt.Sprintf(ReceiptPath, url.PathEscape(id))
	h.render(c, http.StatusOK, "receipt", p)
}
