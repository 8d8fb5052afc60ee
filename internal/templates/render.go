package templates

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Page names.
const (
	PageLogin     = "login.html"
	PageError     = "error.html"
	PageSignedOut = "signed_out.html"
	PageHome      = "home.html"
	PageAPI       = "api.html"
)

//go:embed pages/*.html
var pagesFS embed.FS

var pages = template.Must(template.ParseFS(pagesFS, "pages/*.html"))

// Render executes the named page into the response.
func Render(c *gin.Context, status int, name string, props any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, props); err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("page", name).Msg("Failed to render page")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

// RenderError renders the error page.
func RenderError(c *gin.Context, status int, code, message string) {
	Render(c, status, PageError, ErrorPageProps{
		BaseProps: BaseProps{Title: "Error"},
		Error:     code,
		Message:   message,
	})
}
