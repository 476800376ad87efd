package email

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var titleCaser = cases.Title(language.English)

// renderer renders email subjects and bodies from embedded templates.
type renderer struct {
	templates map[string]*template.Template
}

func newRenderer() (*renderer, error) {
	funcMap := template.FuncMap{
		"title": titleCaser.String,
		"join":  strings.Join,
	}

	r := &renderer{templates: make(map[string]*template.Template)}

	for _, name := range []string{"verification", "status_update"} {
		filename := fmt.Sprintf("templates/%s.tmpl", name)
		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}

	return r, nil
}

func (r *renderer) renderVerification(msg VerificationMessage) (subject, body string, err error) {
	subject = "Confirm your subscription"
	if msg.PageName != "" {
		subject = fmt.Sprintf("Confirm your subscription to %s", msg.PageName)
	}

	body, err = r.execute("verification", msg)
	return subject, body, err
}

type statusUpdateData struct {
	StatusUpdateMessage
	StatusTitle    string
	ManageURL      string
	UnsubscribeURL string
}

func (r *renderer) renderStatusUpdate(msg StatusUpdateMessage, rcpt Recipient, baseURL string) (subject, body string, err error) {
	statusTitle := titleCaser.String(strings.ReplaceAll(msg.Status, "_", " "))
	subject = fmt.Sprintf("[%s] %s: %s", msg.PageName, statusTitle, msg.Title)

	data := statusUpdateData{
		StatusUpdateMessage: msg,
		StatusTitle:         statusTitle,
		ManageURL:           fmt.Sprintf("%s/subscriptions/%s", baseURL, rcpt.Token),
		UnsubscribeURL:      fmt.Sprintf("%s/subscriptions/%s/unsubscribe", baseURL, rcpt.Token),
	}

	body, err = r.execute("status_update", data)
	return subject, body, err
}

func (r *renderer) execute(name string, data any) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}

	return strings.TrimSpace(buf.String()), nil
}
