package remote

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"syncvault/internal/apperr"
	"syncvault/internal/config"
)

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:resourcetype/>
    <d:getcontentlength/>
    <d:getlastmodified/>
  </d:prop>
</d:propfind>`

type WebDAV struct {
	client   *http.Client
	root     *url.URL
	username string
	password string
}

func NewWebDAV(cfg config.WebDAVConfig, client *http.Client) (*WebDAV, error) {
	if cfg.URL == "" {
		return nil, apperr.New(apperr.KindConfig, "init webdav", "webdav url is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, apperr.New(apperr.KindConfig, "init webdav", "webdav username and password are required")
	}
	root, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "init webdav", err)
	}
	if root.Scheme != "http" && root.Scheme != "https" {
		return nil, apperr.Errorf(apperr.KindConfig, "init webdav", "unsupported url scheme %q", root.Scheme)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &WebDAV{
		client:   client,
		root:     root,
		username: cfg.Username,
		password: cfg.Password,
	}, nil
}

func (w *WebDAV) Name() string {
	return config.BackendWebDAV
}

func (w *WebDAV) TestConnection(ctx context.Context) (bool, string) {
	resp, err := w.do(ctx, "PROPFIND", "/", strings.NewReader(propfindBody), map[string]string{
		"Depth":        "0",
		"Content-Type": "application/xml",
	})
	if err != nil {
		return false, err.Error()
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return false, apperr.FromStatus("test connection", resp.StatusCode).Error()
	}
	return true, fmt.Sprintf("connected to %s", w.root.Host)
}

func (w *WebDAV) EnsureDir(ctx context.Context, dir string) error {
	dir = Clean(dir)
	if dir == "/" {
		return nil
	}

	current := ""
	for _, segment := range strings.Split(strings.TrimPrefix(dir, "/"), "/") {
		current += "/" + segment
		resp, err := w.do(ctx, "MKCOL", current, nil, nil)
		if err != nil {
			return err
		}
		drain(resp)

		switch resp.StatusCode {
		case http.StatusCreated, http.StatusOK, http.StatusNoContent, http.StatusMethodNotAllowed:
			// 405 means the collection already exists
		default:
			return apperr.FromStatus("mkcol "+current, resp.StatusCode)
		}
	}
	return nil
}

func (w *WebDAV) Upload(ctx context.Context, p string, content []byte) error {
	p = Clean(p)
	if err := w.EnsureDir(ctx, path.Dir(p)); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	resp, err := w.do(ctx, http.MethodPut, p, bytes.NewReader(content), map[string]string{
		"Content-Type": "application/octet-stream",
	})
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		slog.Debug("Uploaded to WebDAV", "path", p, "bytes", len(content))
		return nil
	}
	return apperr.FromStatus("put "+p, resp.StatusCode)
}

func (w *WebDAV) Download(ctx context.Context, p string) ([]byte, error) {
	p = Clean(p)
	resp, err := w.do(ctx, http.MethodGet, p, nil, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.FromStatus("get "+p, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.FromTransport("get "+p, err)
	}
	return data, nil
}

func (w *WebDAV) Delete(ctx context.Context, p string) error {
	p = Clean(p)
	resp, err := w.do(ctx, http.MethodDelete, p, nil, nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusAccepted:
		return nil
	}
	return apperr.FromStatus("delete "+p, resp.StatusCode)
}

func (w *WebDAV) List(ctx context.Context, dir string) ([]ObjectInfo, error) {
	dir = Clean(dir)
	resp, err := w.do(ctx, "PROPFIND", dir, strings.NewReader(propfindBody), map[string]string{
		"Depth":        "1",
		"Content-Type": "application/xml",
	})
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusMultiStatus {
		return nil, apperr.FromStatus("propfind "+dir, resp.StatusCode)
	}

	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, apperr.Wrap(apperr.KindFormat, "propfind "+dir, err)
	}

	var objects []ObjectInfo
	for _, r := range ms.Responses {
		p, err := w.hrefPath(r.Href)
		if err != nil {
			slog.Warn("Skipping unparseable WebDAV href", "href", r.Href, "error", err)
			continue
		}
		if p == dir {
			continue
		}
		objects = append(objects, r.info(p))
	}
	return objects, nil
}

func (w *WebDAV) do(ctx context.Context, method, p string, body io.Reader, headers map[string]string) (*http.Response, error) {
	op := strings.ToLower(method) + " " + p
	req, err := http.NewRequestWithContext(ctx, method, w.root.JoinPath(p).String(), body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRequest, op, err)
	}
	req.SetBasicAuth(w.username, w.password)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, apperr.FromTransport(op, err)
	}
	return resp, nil
}

// hrefPath maps a PROPFIND href back to a backend path relative to the root URL.
func (w *WebDAV) hrefPath(href string) (string, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	p := u.Path
	if rootPath := strings.TrimRight(w.root.Path, "/"); rootPath != "" {
		p = strings.TrimPrefix(p, rootPath)
	}
	return Clean(p), nil
}

type multistatus struct {
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href     string        `xml:"DAV: href"`
	Propstat []davPropstat `xml:"DAV: propstat"`
}

type davPropstat struct {
	Prop   davProp `xml:"DAV: prop"`
	Status string  `xml:"DAV: status"`
}

type davProp struct {
	ContentLength string `xml:"DAV: getcontentlength"`
	LastModified  string `xml:"DAV: getlastmodified"`
	ResourceType  struct {
		Collection *struct{} `xml:"DAV: collection"`
	} `xml:"DAV: resourcetype"`
}

func (r davResponse) info(p string) ObjectInfo {
	info := ObjectInfo{Path: p, Name: path.Base(p)}
	for _, ps := range r.Propstat {
		if ps.Status != "" && !strings.Contains(ps.Status, " 200") {
			continue
		}
		if ps.Prop.ResourceType.Collection != nil {
			info.IsDir = true
		}
		if n, err := strconv.ParseInt(strings.TrimSpace(ps.Prop.ContentLength), 10, 64); err == nil {
			info.Size = n
		}
		if t, err := http.ParseTime(strings.TrimSpace(ps.Prop.LastModified)); err == nil {
			info.ModTime = t.UTC()
		}
	}
	return info
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
