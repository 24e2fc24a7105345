package authn

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
)

const pageLayout = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;background:#f3f4f6;display:flex;justify-content:center;margin:0;padding:4rem 1rem}
.card{background:#fff;border-radius:8px;padding:2rem;max-width:22rem;width:100%;box-shadow:0 1px 3px rgba(0,0,0,.1)}
h1{font-size:1.25rem;margin:0 0 1.5rem}
button{width:100%;padding:.75rem;margin:.25rem 0;border:1px solid #d1d5db;border-radius:6px;background:#fff;font-size:1rem;cursor:pointer}
input[type=email]{width:100%;box-sizing:border-box;padding:.75rem;margin:.25rem 0;border:1px solid #d1d5db;border-radius:6px;font-size:1rem}
.error{background:#fef2f2;color:#991b1b;padding:.75rem;border-radius:6px;margin-bottom:1rem}
hr{border:0;border-top:1px solid #e5e7eb;margin:1rem 0}
</style>
</head>
<body><div class="card">{{template "content" .}}</div></body>
</html>`

var pages = map[string]*template.Template{
	"signin": mustPage(`{{define "content"}}
<h1>Sign in</h1>
{{if .Error}}<div class="error">{{.Error}}</div>{{end}}
{{range .OAuth}}
<form action="{{.SignInURL}}" method="POST">
<input type="hidden" name="csrfToken" value="{{$.CSRFToken}}">
<input type="hidden" name="callbackUrl" value="{{$.CallbackURL}}">
<button type="submit">Sign in with {{.Name}}</button>
</form>
{{end}}
{{range .Email}}
{{if $.OAuth}}<hr>{{end}}
<form action="{{.SignInURL}}" method="POST">
<input type="hidden" name="csrfToken" value="{{$.CSRFToken}}">
<input type="hidden" name="callbackUrl" value="{{$.CallbackURL}}">
<input type="email" name="email" placeholder="email@example.com" required>
<button type="submit">Sign in with {{.Name}}</button>
</form>
{{end}}
{{end}}`),

	"signout": mustPage(`{{define "content"}}
<h1>Sign out</h1>
<p>Are you sure you want to sign out?</p>
<form action="{{.Action}}" method="POST">
<input type="hidden" name="csrfToken" value="{{.CSRFToken}}">
<input type="hidden" name="callbackUrl" value="{{.CallbackURL}}">
<button type="submit">Sign out</button>
</form>
{{end}}`),

	"verify-request": mustPage(`{{define "content"}}
<h1>Check your email</h1>
<p>A sign in link has been sent to your email address.</p>
<p><a href="{{.Home}}">{{.Host}}</a></p>
{{end}}`),

	"error": mustPage(`{{define "content"}}
<h1>{{.Heading}}</h1>
<p>{{.Message}}</p>
<p><a href="{{.SignInURL}}">Sign in</a></p>
{{end}}`),
}

func mustPage(content string) *template.Template {
	t := template.Must(template.New("layout").Parse(pageLayout))
	return template.Must(t.Parse(content))
}

type providerLink struct {
	Name      string
	SignInURL string
}

type signInPage struct {
	Title       string
	Error       string
	CSRFToken   string
	CallbackURL string
	OAuth       []providerLink
	Email       []providerLink
}

type signOutPage struct {
	Title       string
	Action      string
	CSRFToken   string
	CallbackURL string
}

type verifyRequestPage struct {
	Title string
	Home  string
	Host  string
}

type errorPage struct {
	Title     string
	Heading   string
	Message   string
	SignInURL string
}

// renderPage executes a page into a buffer first so a template error
// never produces a half-written response.
func renderPage(w http.ResponseWriter, r *http.Request, name string, status int, data any) {
	var buf bytes.Buffer
	if err := pages[name].Execute(&buf, data); err != nil {
		slog.ErrorContext(r.Context(), "Failed to render page", "page", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// signInErrorMessage is shown above the provider list when a flow bounces
// back to the sign-in page.
func signInErrorMessage(t ErrorType) string {
	switch t {
	case "":
		return ""
	case OAuthAccountNotLinked:
		return "To confirm your identity, sign in with the same account you used originally."
	case EmailSignInError:
		return "The email could not be sent."
	case AccessDenied:
		return "You do not have permission to sign in."
	case Verification:
		return "The sign in link is no longer valid."
	default:
		return "Unable to sign in."
	}
}

func errorPageText(t ErrorType) (heading, message string) {
	switch t {
	case Configuration, MissingAdapter:
		return "Server error", "There is a problem with the server configuration."
	case AccessDenied:
		return "Access Denied", "You do not have permission to sign in."
	case Verification:
		return "Unable to sign in", "The sign in link is no longer valid. It may have been used already or it may have expired."
	default:
		return "Error", signInErrorMessage(t)
	}
}
