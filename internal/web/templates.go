package web

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"sort"

	"github.com/yuin/goldmark"

	"github.com/mmynk/lostfound/internal/models"
)

// page is embedded in every template data type.
type page struct {
	Title     string
	Username  string
	CSRFToken string
	Error     string
	Flash     string
}

type homeData struct {
	page
	NewMessageCount int
	InboxCount      int
}

type itemView struct {
	Name string
	models.Item
}

type itemsData struct {
	page
	Items []itemView
}

type searchResultsData struct {
	page
	Keyword string
	Results []itemView
}

type inboxThread struct {
	ItemName string
	Messages []models.Message
}

type inboxData struct {
	page
	Threads []inboxThread
}

var pageNames = []string{
	"login",
	"register",
	"index",
	"report_lost",
	"lost_items",
	"search_lost",
	"search_results",
	"inbox",
}

// parseTemplates parses each page together with the base layout.
func parseTemplates(md goldmark.Markdown) (map[string]*template.Template, error) {
	funcs := template.FuncMap{
		"markdown": func(s string) template.HTML {
			var buf bytes.Buffer
			if err := md.Convert([]byte(s), &buf); err != nil {
				return template.HTML(template.HTMLEscapeString(s))
			}
			// Raw HTML in the source is omitted by the renderer.
			return template.HTML(buf.String())
		},
		"uploadURL": func(ref string) string {
			return "/uploads/" + url.PathEscape(ref)
		},
	}

	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New("base.html").Funcs(funcs).ParseFS(templateFS, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}

// render writes the named page with the given status code.
func (a *App) render(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := a.templates[name]
	if !ok {
		a.logger.Error("unknown template", "template", name)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		a.logger.Error("failed to render page", "template", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func sortedItems(items map[string]models.Item) []itemView {
	out := make([]itemView, 0, len(items))
	for name, item := range items {
		out = append(out, itemView{Name: name, Item: item})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedThreads(projection map[string][]models.Message) []inboxThread {
	out := make([]inboxThread, 0, len(projection))
	for name, messages := range projection {
		out = append(out, inboxThread{ItemName: name, Messages: messages})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemName < out[j].ItemName })
	return out
}
