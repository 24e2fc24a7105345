package mailer

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

var signInText = texttemplate.Must(texttemplate.New("signin.txt").Parse(
	`Sign in to {{.Host}}
{{.URL}}

If you did not request this email you can safely ignore it.
`))

var signInHTML = htmltemplate.Must(htmltemplate.New("signin.html").Parse(`<!DOCTYPE html>
<html>
<body style="background:#f9f9f9;font-family:Helvetica,Arial,sans-serif;">
  <table width="100%" border="0" cellspacing="20" cellpadding="0" style="background:#fff;max-width:600px;margin:auto;border-radius:10px;">
    <tr>
      <td align="center" style="padding:10px 0;font-size:22px;color:#444;">
        Sign in to <strong>{{.Host}}</strong>
      </td>
    </tr>
    <tr>
      <td align="center" style="padding:20px 0;">
        <a href="{{.URL}}" target="_blank" style="font-size:18px;color:#fff;background:#346df1;text-decoration:none;border-radius:5px;padding:10px 20px;border:1px solid #346df1;display:inline-block;font-weight:bold;">Sign in</a>
      </td>
    </tr>
    <tr>
      <td align="center" style="padding:0 0 10px 0;font-size:16px;line-height:22px;color:#444;">
        If you did not request this email you can safely ignore it.
      </td>
    </tr>
  </table>
</body>
</html>
`))

// SignInMessage renders the magic-link email for the given site host.
func SignInMessage(from, to, host, link string) (Message, error) {
	data := struct {
		Host string
		URL  string
	}{Host: host, URL: link}

	var text, html bytes.Buffer
	if err := signInText.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("failed to render text body: %w", err)
	}
	if err := signInHTML.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("failed to render html body: %w", err)
	}

	return Message{
		From:    from,
		To:      to,
		Subject: "Sign in to " + host,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
