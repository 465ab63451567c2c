package middleware

import (
	"bytes"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/portfolio-cms/internal/handle"
)

// BlobURLRewriter turns handle URLs in JSON responses into fetchable
// <publicURL>/blob/<id> links. An empty publicURL uses the request host.
func BlobURLRewriter(publicURL string) gin.HandlerFunc {
	publicURL = strings.TrimRight(publicURL, "/")

	return func(c *gin.Context) {
		base := publicURL
		if base == "" {
			scheme := "http"
			if c.Request.TLS != nil {
				scheme = "https"
			}
			base = scheme + "://" + c.Request.Host
		}

		originalWriter := c.Writer
		c.Writer = &blobResponseWriter{
			ResponseWriter: originalWriter,
			replacement:    []byte(base + "/blob/"),
		}

		c.Next()

		c.Writer = originalWriter
	}
}

type blobResponseWriter struct {
	gin.ResponseWriter
	replacement []byte
}

// Write rewrites handle URLs in JSON bodies; other content passes through.
// gin's JSON renderer writes the whole body in one call.
func (w *blobResponseWriter) Write(data []byte) (int, error) {
	if !strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		return w.ResponseWriter.Write(data)
	}

	rewritten := bytes.ReplaceAll(data, []byte(handle.Prefix), w.replacement)
	if _, err := w.ResponseWriter.Write(rewritten); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (w *blobResponseWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}
