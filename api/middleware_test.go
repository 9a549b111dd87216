package api

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestDecompressRequestsInflatesGzipBody(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(`{"hello":"world"}`)); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen []byte
	next := func(c echo.Context) error {
		var err error
		seen, err = io.ReadAll(c.Request().Body)
		return err
	}

	if err := DecompressRequests()(next)(c); err != nil {
		t.Fatalf("middleware error: %v", err)
	}
	if string(seen) != `{"hello":"world"}` {
		t.Fatalf("unexpected body: %s", seen)
	}
	if enc := c.Request().Header.Get(echo.HeaderContentEncoding); enc != "" {
		t.Fatalf("expected content encoding header removed, got %q", enc)
	}
}

func TestDecompressRequestsPassesPlainBodies(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("plain"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	next := func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		if string(body) != "plain" {
			t.Fatalf("unexpected body: %s", body)
		}
		return nil
	}

	if err := DecompressRequests()(next)(c); err != nil {
		t.Fatalf("middleware error: %v", err)
	}
}

func TestDecompressRequestsRejectsInvalidGzip(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	next := func(c echo.Context) error { return nil }

	err := DecompressRequests()(next)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected HTTP error, got %v", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", httpErr.Code)
	}
}
