package notify

import (
	"bytes"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

const htmlLayout = `<!DOCTYPE html>
<html><head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
<div style="background-color: #1a472a; color: white; padding: 20px; text-align: center;"><h1>Escuela Bíblica Salem</h1></div>
<div style="padding: 20px; background-color: #f9f9f9;">{{template "body" .}}</div>
<div style="text-align: center; padding: 20px; font-size: 12px; color: #666;">Este es un correo automático, por favor no respondas.</div>
</div></body></html>`

type emailTemplate struct {
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

func mustTemplate(name, subject, text, html string) emailTemplate {
	h := htmltemplate.Must(htmltemplate.New(name).Parse(htmlLayout))
	htmltemplate.Must(h.New("body").Parse(html))
	return emailTemplate{
		subject: texttemplate.Must(texttemplate.New(name + "_subject").Parse(subject)),
		text:    texttemplate.Must(texttemplate.New(name + "_text").Parse(text)),
		html:    h,
	}
}

var (
	welcomeTemplate = mustTemplate("welcome",
		`¡Bienvenido a Escuela Bíblica Salem!`,
		`Hola {{.Name}},

Tu cuenta ha sido creada. Ya puedes inscribirte en los cursos disponibles.`,
		`<p>Hola <strong>{{.Name}}</strong>,</p><p>Tu cuenta ha sido creada. Ya puedes inscribirte en los cursos disponibles.</p>`)

	attemptResultTemplate = mustTemplate("attempt_result",
		`Resultado de {{.Title}}: {{if .Passed}}aprobado{{else}}no aprobado{{end}}`,
		`Hola {{.Name}},

Obtuviste {{printf "%.2f" .Percentage}}% en {{.Title}} (mínimo {{printf "%.2f" .MinScore}}%).
{{if .Passed}}¡Felicidades, aprobaste!{{else}}No alcanzaste la calificación mínima. Sigue estudiando.{{end}}`,
		`<p>Hola <strong>{{.Name}}</strong>,</p>
<p>Obtuviste <strong>{{printf "%.2f" .Percentage}}%</strong> en {{.Title}} (mínimo {{printf "%.2f" .MinScore}}%).</p>
<p>{{if .Passed}}¡Felicidades, aprobaste!{{else}}No alcanzaste la calificación mínima. Sigue estudiando.{{end}}</p>`)

	certificateReadyTemplate = mustTemplate("certificate_ready",
		`Tu certificado de {{.CourseTitle}} está listo`,
		`Hola {{.Name}},

Tu certificado del curso {{.CourseTitle}} ya está disponible.
Folio: {{.Folio}}{{if .URL}}

Puedes descargar tu certificado en: {{.URL}}{{end}}`,
		`<p>Hola <strong>{{.Name}}</strong>,</p>
<p>Tu certificado del curso <strong>{{.CourseTitle}}</strong> ya está disponible.</p>
<p>Folio: <code>{{.Folio}}</code></p>
{{if .URL}}<p><a href="{{.URL}}" style="background-color: #1a472a; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px; display: inline-block;">Descargar Certificado</a></p>{{end}}`)
)

func (t emailTemplate) render(to string, data any) (Message, error) {
	var subj, text, html bytes.Buffer
	if err := t.subject.Execute(&subj, data); err != nil {
		return Message{}, err
	}
	if err := t.text.Execute(&text, data); err != nil {
		return Message{}, err
	}
	if err := t.html.Execute(&html, data); err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: strings.TrimSpace(subj.String()),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
