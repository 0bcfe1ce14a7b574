package worker

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/lalithlochan/teamalerts/internal/db"
)

var textTemplate = texttemplate.Must(texttemplate.New("text").Parse(
	`Hi {{.Name}},

{{.Body}}
{{if .URL}}
{{.URL}}
{{end}}`))

var htmlTemplate = htmltemplate.Must(htmltemplate.New("html").Parse(
	`<!DOCTYPE html>
<html>
<body>
<p>Hi {{.Name}},</p>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}{{if .URL}}<p><a href="{{.URL}}">{{.URL}}</a></p>
{{end}}</body>
</html>
`))

type emailView struct {
	Name       string
	Body       string
	Paragraphs []string
	URL        string
}

func renderEmail(user *db.User, msg Message) (*EmailRequest, error) {
	view := emailView{
		Name:       user.FullName(),
		Body:       msg.Body,
		Paragraphs: strings.Split(msg.Body, "\n"),
		URL:        msg.URL,
	}

	var text, html bytes.Buffer
	if err := textTemplate.Execute(&text, view); err != nil {
		return nil, fmt.Errorf("render text email: %w", err)
	}
	if err := htmlTemplate.Execute(&html, view); err != nil {
		return nil, fmt.Errorf("render html email: %w", err)
	}

	return &EmailRequest{
		Subject: msg.Subject,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

// renderText is the short form used by text messages and chat.
func renderText(msg Message) string {
	if msg.URL == "" {
		return msg.Body
	}
	if msg.Body == "" {
		return msg.URL
	}
	return msg.Body + "\n" + msg.URL
}
