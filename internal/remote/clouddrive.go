package remote

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"syncvault/internal/apperr"
	"syncvault/internal/config"

	"golang.org/x/oauth2"
)

const (
	defaultDriveAPI    = "https://pan.baidu.com"
	defaultDriveUpload = "https://d.pcs.baidu.com"
	listPageSize       = 1000
)

// Cloud drive error codes carried in the "error" field of API responses.
const (
	driveErrAccessDenied  = -6
	driveErrExists        = -8
	driveErrNotFound      = -9
	driveErrTokenInvalid  = 110
	driveErrTokenExpired  = 111
	driveErrRateLimited   = 31034
	driveErrFileNotExists = 31066
)

// CloudDrive talks to a token based drive REST API: one JSON endpoint for
// mkdir/precreate/list/delete and a separate host for multipart uploads and
// downloads. The access token travels as a query parameter.
type CloudDrive struct {
	client    *http.Client
	apiURL    string
	uploadURL string
	tokens    oauth2.TokenSource
}

func NewCloudDrive(ctx context.Context, cfg config.CloudDriveConfig, client *http.Client) (*CloudDrive, error) {
	if client == nil {
		client = &http.Client{}
	}
	tokens, err := newDriveTokenSource(cfg, client)
	if err != nil {
		return nil, err
	}

	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultDriveAPI
	}
	uploadURL := strings.TrimRight(cfg.UploadURL, "/")
	if uploadURL == "" {
		uploadURL = defaultDriveUpload
	}

	return &CloudDrive{
		client:    client,
		apiURL:    apiURL,
		uploadURL: uploadURL,
		tokens:    tokens,
	}, nil
}

func (c *CloudDrive) Name() string {
	return config.BackendCloudDrive
}

func (c *CloudDrive) TestConnection(ctx context.Context) (bool, string) {
	var data driveListData
	err := c.call(ctx, "test connection", map[string]any{
		"method": "list",
		"dir":    "/",
		"num":    1,
	}, &data)
	if err != nil {
		return false, err.Error()
	}
	return true, "connected to cloud drive"
}

func (c *CloudDrive) EnsureDir(ctx context.Context, dir string) error {
	dir = Clean(dir)
	if dir == "/" {
		return nil
	}
	err := c.call(ctx, "mkdir "+dir, map[string]any{
		"method": "mkdir",
		"path":   dir,
	}, nil)
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Message == existsMessage {
		return nil
	}
	return err
}

func (c *CloudDrive) Upload(ctx context.Context, p string, content []byte) error {
	p = Clean(p)
	if err := c.EnsureDir(ctx, path.Dir(p)); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	sum := md5.Sum(content)
	var pre struct {
		UploadID string `json:"uploadid"`
	}
	if err := c.call(ctx, "precreate "+p, map[string]any{
		"method":     "precreate",
		"path":       p,
		"size":       len(content),
		"block_list": []string{hex.EncodeToString(sum[:])},
	}, &pre); err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", path.Base(p))
	if err != nil {
		return apperr.Wrap(apperr.KindRequest, "upload "+p, err)
	}
	if _, err := fw.Write(content); err != nil {
		return apperr.Wrap(apperr.KindRequest, "upload "+p, err)
	}
	if err := mw.Close(); err != nil {
		return apperr.Wrap(apperr.KindRequest, "upload "+p, err)
	}

	q := url.Values{}
	q.Set("method", "upload")
	q.Set("path", p)
	q.Set("uploadid", pre.UploadID)
	q.Set("partseq", "0")

	resp, err := c.do(ctx, "upload "+p, http.MethodPost, c.uploadURL+"/rest/2.0/pcs/file", q, &body, mw.FormDataContentType())
	if err != nil {
		return err
	}
	defer drain(resp)

	if _, err := decodeDrive("upload "+p, resp); err != nil {
		return err
	}
	slog.Debug("Uploaded to cloud drive", "path", p, "bytes", len(content))
	return nil
}

func (c *CloudDrive) Download(ctx context.Context, p string) ([]byte, error) {
	p = Clean(p)
	q := url.Values{}
	q.Set("method", "download")
	q.Set("path", p)

	resp, err := c.do(ctx, "download "+p, http.MethodGet, c.uploadURL+"/rest/2.0/pcs/file", q, nil, "")
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		// Error bodies carry the drive error code when there is one.
		if _, err := decodeDrive("download "+p, resp); err != nil {
			return nil, err
		}
		return nil, apperr.FromStatus("download "+p, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.FromTransport("download "+p, err)
	}
	return data, nil
}

func (c *CloudDrive) Delete(ctx context.Context, p string) error {
	p = Clean(p)
	return c.call(ctx, "delete "+p, map[string]any{
		"method": "delete",
		"path":   p,
	}, nil)
}

func (c *CloudDrive) List(ctx context.Context, dir string) ([]ObjectInfo, error) {
	dir = Clean(dir)
	var objects []ObjectInfo
	for page := 1; ; page++ {
		var data driveListData
		if err := c.call(ctx, "list "+dir, map[string]any{
			"method": "list",
			"dir":    dir,
			"page":   page,
			"num":    listPageSize,
		}, &data); err != nil {
			return nil, err
		}
		for _, e := range data.List {
			p := Clean(e.Path)
			objects = append(objects, ObjectInfo{
				Path:    p,
				Name:    path.Base(p),
				Size:    e.Size,
				ModTime: time.Unix(e.Mtime, 0).UTC(),
				IsDir:   e.IsDir == 1,
			})
		}
		if len(data.List) < listPageSize {
			return objects, nil
		}
	}
}

type driveListData struct {
	List []struct {
		Path  string `json:"path"`
		Size  int64  `json:"size"`
		Mtime int64  `json:"mtime"`
		IsDir int    `json:"isdir"`
		MD5   string `json:"md5"`
	} `json:"list"`
}

type driveResponse struct {
	Error    int             `json:"error"`
	ErrorMsg string          `json:"error_msg"`
	Data     json.RawMessage `json:"data"`
}

// call POSTs a JSON request to the file endpoint and decodes its data into out.
func (c *CloudDrive) call(ctx context.Context, op string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperr.Wrap(apperr.KindRequest, op, err)
	}

	resp, err := c.do(ctx, op, http.MethodPost, c.apiURL+"/rest/2.0/xpan/file", url.Values{}, bytes.NewReader(payload), "application/json")
	if err != nil {
		return err
	}
	defer drain(resp)

	dr, err := decodeDrive(op, resp)
	if err != nil {
		return err
	}
	if out != nil && len(dr.Data) > 0 {
		if err := json.Unmarshal(dr.Data, out); err != nil {
			return apperr.Wrap(apperr.KindFormat, op, err)
		}
	}
	return nil
}

func (c *CloudDrive) do(ctx context.Context, op, method, endpoint string, q url.Values, body io.Reader, contentType string) (*http.Response, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuth, op, fmt.Errorf("failed to obtain access token: %w", err))
	}
	q.Set("access_token", tok.AccessToken)

	req, err := http.NewRequestWithContext(ctx, method, endpoint+"?"+q.Encode(), body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRequest, op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.FromTransport(op, err)
	}
	return resp, nil
}

const existsMessage = "already exists"

// decodeDrive reads a drive response, mapping both HTTP status and the error
// code in the body onto the error taxonomy.
func decodeDrive(op string, resp *http.Response) (*driveResponse, error) {
	var dr driveResponse
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.FromTransport(op, err)
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &dr); err != nil && resp.StatusCode < 300 {
			return nil, apperr.Wrap(apperr.KindFormat, op, err)
		}
	}
	if dr.Error != 0 {
		return nil, driveError(op, dr.Error, dr.ErrorMsg)
	}
	if resp.StatusCode >= 300 {
		return nil, apperr.FromStatus(op, resp.StatusCode)
	}
	return &dr, nil
}

func driveError(op string, code int, msg string) *apperr.Error {
	switch code {
	case driveErrAccessDenied, driveErrTokenInvalid, driveErrTokenExpired:
		return apperr.Errorf(apperr.KindAuth, op, "access token rejected (%d %s)", code, msg)
	case driveErrNotFound, driveErrFileNotExists:
		return apperr.New(apperr.KindNotFound, op, "object not found")
	case driveErrExists:
		return apperr.New(apperr.KindRequest, op, existsMessage)
	case driveErrRateLimited:
		return apperr.Errorf(apperr.KindConnection, op, "rate limited (%d)", code)
	}
	return apperr.Errorf(apperr.KindRequest, op, "drive error %d: %s", code, msg)
}
