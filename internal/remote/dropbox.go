package remote

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path"
	"strings"

	"syncvault/internal/apperr"
	"syncvault/internal/config"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
)

// Dropbox stores objects through the Dropbox files API. The SDK calls are not
// context aware, so ctx is only checked between calls.
type Dropbox struct {
	client files.Client
}

func NewDropbox(cfg config.DropboxConfig) (*Dropbox, error) {
	if cfg.Token == "" {
		return nil, apperr.New(apperr.KindConfig, "init dropbox", "dropbox token is required")
	}
	client := files.New(dropbox.Config{Token: cfg.Token, LogLevel: dropbox.LogOff})
	return &Dropbox{client: client}, nil
}

func (d *Dropbox) Name() string {
	return config.BackendDropbox
}

func (d *Dropbox) TestConnection(ctx context.Context) (bool, string) {
	if err := ctx.Err(); err != nil {
		return false, err.Error()
	}
	arg := files.NewListFolderArg("")
	arg.Limit = 1
	if _, err := d.client.ListFolder(arg); err != nil {
		return false, dropboxError("list folder", err).Error()
	}
	return true, "connected to dropbox"
}

// EnsureDir creates each missing segment of dir; CreateFolderV2 does not
// create parents.
func (d *Dropbox) EnsureDir(ctx context.Context, dir string) error {
	dir = Clean(dir)
	if dir == "/" {
		return nil
	}

	current := ""
	for _, segment := range strings.Split(strings.TrimPrefix(dir, "/"), "/") {
		if err := ctx.Err(); err != nil {
			return apperr.FromTransport("mkdir "+dir, err)
		}
		current += "/" + segment
		if _, err := d.client.CreateFolderV2(files.NewCreateFolderArg(current)); err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "conflict") || strings.Contains(msg, "already") {
				continue
			}
			return dropboxError("mkdir "+current, err)
		}
	}
	return nil
}

func (d *Dropbox) Upload(ctx context.Context, p string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return apperr.FromTransport("upload "+p, err)
	}
	p = Clean(p)
	arg := files.NewUploadArg(p)
	arg.Mode = &files.WriteMode{Tagged: dropbox.Tagged{Tag: "overwrite"}}
	arg.Mute = true

	if _, err := d.client.Upload(arg, bytes.NewReader(content)); err != nil {
		return dropboxError("upload "+p, err)
	}
	slog.Debug("Uploaded to Dropbox", "path", p, "bytes", len(content))
	return nil
}

func (d *Dropbox) Download(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.FromTransport("download "+p, err)
	}
	p = Clean(p)
	_, content, err := d.client.Download(files.NewDownloadArg(p))
	if err != nil {
		return nil, dropboxError("download "+p, err)
	}
	defer content.Close()

	data, err := io.ReadAll(content)
	if err != nil {
		return nil, apperr.FromTransport("download "+p, err)
	}
	return data, nil
}

func (d *Dropbox) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return apperr.FromTransport("delete "+p, err)
	}
	p = Clean(p)
	if _, err := d.client.DeleteV2(files.NewDeleteArg(p)); err != nil {
		return dropboxError("delete "+p, err)
	}
	return nil
}

func (d *Dropbox) List(ctx context.Context, dir string) ([]ObjectInfo, error) {
	dir = Clean(dir)
	arg := files.NewListFolderArg(dropboxPath(dir))
	res, err := d.client.ListFolder(arg)
	if err != nil {
		return nil, dropboxError("list "+dir, err)
	}

	var objects []ObjectInfo
	for {
		for _, entry := range res.Entries {
			switch e := entry.(type) {
			case *files.FileMetadata:
				objects = append(objects, ObjectInfo{
					Path:    Clean(e.PathDisplay),
					Name:    e.Name,
					Size:    int64(e.Size),
					ModTime: e.ServerModified.UTC(),
				})
			case *files.FolderMetadata:
				objects = append(objects, ObjectInfo{
					Path:  Clean(e.PathDisplay),
					Name:  path.Base(e.PathDisplay),
					IsDir: true,
				})
			}
		}
		if !res.HasMore {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, apperr.FromTransport("list "+dir, err)
		}
		res, err = d.client.ListFolderContinue(files.NewListFolderContinueArg(res.Cursor))
		if err != nil {
			return nil, dropboxError("list "+dir, err)
		}
	}
	return objects, nil
}

// dropboxPath converts a backend path to the API form, where the root is "".
func dropboxPath(p string) string {
	if p == "/" {
		return ""
	}
	return p
}

// dropboxError maps SDK errors by their summary text; the SDK exposes no
// stable typed errors across endpoints.
func dropboxError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not_found"):
		return apperr.Wrap(apperr.KindNotFound, op, err)
	case strings.Contains(msg, "expired_access_token"),
		strings.Contains(msg, "invalid_access_token"),
		strings.Contains(msg, "missing_scope"),
		strings.Contains(msg, "invalid_client"):
		return apperr.Wrap(apperr.KindAuth, op, err)
	case strings.Contains(msg, "malformed_path"), strings.Contains(msg, "disallowed_name"):
		return apperr.Wrap(apperr.KindRequest, op, err)
	}
	return apperr.FromTransport(op, err)
}
