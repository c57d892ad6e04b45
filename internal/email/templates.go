package email

import (
	"bytes"
	htmltemplate "html/template"
	texttemplate "text/template"
)

type templateData struct {
	SiteName string
	Domain   string
	Link     string
}

type emailTemplate struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

var verificationTemplate = emailTemplate{
	html: htmltemplate.Must(htmltemplate.New("verify.html").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<h2>Welcome to {{.SiteName}}</h2>
<p>Confirm your email address to finish setting up your account.</p>
<p><a href="{{.Link}}">Verify email</a></p>
<p>If you did not sign up for {{.Domain}}, you can ignore this email.</p>
</body></html>`)),
	text: texttemplate.Must(texttemplate.New("verify.txt").Parse(`Welcome to {{.SiteName}}

Confirm your email address: {{.Link}}

If you did not sign up for {{.Domain}}, you can ignore this email.
`)),
}

var resetTemplate = emailTemplate{
	html: htmltemplate.Must(htmltemplate.New("reset.html").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<h2>Reset your {{.SiteName}} password</h2>
<p>Use the link below to choose a new password. It expires in 24 hours.</p>
<p><a href="{{.Link}}">Reset password</a></p>
<p>If you did not request a reset, no action is needed.</p>
</body></html>`)),
	text: texttemplate.Must(texttemplate.New("reset.txt").Parse(`Reset your {{.SiteName}} password

Choose a new password: {{.Link}}
The link expires in 24 hours.
`)),
}

func render(tpl emailTemplate, data templateData) (string, string, error) {
	var html, text bytes.Buffer
	if errExec := tpl.html.Execute(&html, data); errExec != nil {
		return "", "", errExec
	}
	if errExec := tpl.text.Execute(&text, data); errExec != nil {
		return "", "", errExec
	}
	return html.String(), text.String(), nil
}
