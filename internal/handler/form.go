package handler

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/portfolio-cms/internal/client"
	"github.com/yourorg/portfolio-cms/internal/middleware"
	"github.com/yourorg/portfolio-cms/internal/model"
)

const maxMultipartMemory = 32 << 20 // 32MB

// formFiles reads every part named "file" or "files". The optional repeated
// "last_modified" field (Unix milliseconds) pairs with the files in order.
func formFiles(c *gin.Context) ([]model.File, error) {
	if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, fmt.Errorf("failed to parse form data: %w", err)
	}

	form := c.Request.MultipartForm
	headers := append([]*multipart.FileHeader{}, form.File["file"]...)
	headers = append(headers, form.File["files"]...)
	if len(headers) == 0 {
		return nil, fmt.Errorf("no file uploaded")
	}

	modified := form.Value["last_modified"]

	files := make([]model.File, 0, len(headers))
	for i, header := range headers {
		data, err := readPart(header)
		if err != nil {
			return nil, err
		}

		var lastModified time.Time
		if i < len(modified) {
			ms, err := strconv.ParseInt(modified[i], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid last_modified %q", modified[i])
			}
			lastModified = time.UnixMilli(ms)
		}

		files = append(files, model.NewFile(header.Filename, header.Header.Get("Content-Type"), lastModified, data))
	}
	return files, nil
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", header.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", header.Filename, err)
	}
	return data, nil
}

// requestContext forwards the caller's bearer token to the CMS
func requestContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if token := c.GetString(middleware.ContextToken); token != "" {
		ctx = client.WithToken(ctx, token)
	}
	return ctx
}
