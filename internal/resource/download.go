package resource

import (
	"archive/zip"
	"context"
	"io"
	"time"

	"github.com/objectfs/clouddrive/pkg/errors"
	"github.com/objectfs/clouddrive/pkg/utils"
)

const zipContentType = "application/zip"

// Download is a lazily produced response body. Nothing is read from the store until
// Stream runs, and bytes reach the writer as soon as they are read, so a slow consumer
// throttles the store reads.
type Download struct {
	// Name is the suggested file name: the file's own name, or "<folder>.zip".
	Name        string
	ContentType string
	// Size is the file size, or -1 for folder archives.
	Size int64

	svc    *Service
	userID int64
	path   string
}

// Download checks path and returns a body that streams the file, or a zip archive of the
// folder's files with entry names relative to the folder.
func (s *Service) Download(ctx context.Context, userID int64, path string) (d *Download, err error) {
	defer s.observe("download_prepare", time.Now(), 0, &err)

	if !utils.IsValidForDeleteOrDownload(path) {
		return nil, errors.InvalidPath("invalid path %q", path)
	}

	d = &Download{svc: s, userID: userID, path: path}

	if utils.IsFolder(path) {
		exists, err := s.dirs.PathExists(ctx, userID, path)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errors.NotFound("folder %q not found", path)
		}
		d.Name = utils.NameOf(path, false) + ".zip"
		d.ContentType = zipContentType
		d.Size = -1
		return d, nil
	}

	info, err := s.store.Stat(ctx, s.key(userID, path))
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errors.NotFound("file %q not found", path)
	}
	d.Name = utils.NameOf(path, false)
	d.ContentType = info.ContentType
	if d.ContentType == "" {
		d.ContentType = "application/octet-stream"
	}
	d.Size = info.Size
	return d, nil
}

// IsArchive reports whether the body is a zip of a folder
func (d *Download) IsArchive() bool {
	return utils.IsFolder(d.path)
}

// Stream writes the body into w, reading from the store under ctx. Failures are reported
// as DOWNLOAD_FAILED.
func (d *Download) Stream(ctx context.Context, w io.Writer) (n int64, err error) {
	start := time.Now()
	defer func() { d.svc.observe("download", start, n, &err) }()

	cw := &countingWriter{w: w}
	if d.IsArchive() {
		err = d.writeArchive(ctx, cw)
	} else {
		err = d.copyObject(ctx, cw, d.path)
	}
	if err != nil {
		d.svc.logger.Error("download failed", "user_id", d.userID, "path", d.path, "written", cw.n, "error", err)
		return cw.n, errors.Newf(errors.ErrCodeDownloadFailed, "download of %q failed", d.path).WithCause(err)
	}
	return cw.n, nil
}

func (d *Download) copyObject(ctx context.Context, w io.Writer, path string) error {
	body, err := d.svc.store.Get(ctx, d.svc.key(d.userID, path))
	if err != nil {
		return err
	}
	defer body.Close()

	buf := make([]byte, d.svc.config.DownloadChunkSize)
	// hide ReaderFrom/WriterTo so the copy proceeds in chunk-sized reads
	_, err = io.CopyBuffer(struct{ io.Writer }{w}, struct{ io.Reader }{body}, buf)
	return err
}

func (d *Download) writeArchive(ctx context.Context, w io.Writer) error {
	root := d.svc.key(d.userID, d.path)
	entries, err := d.svc.store.List(ctx, root, true)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for _, entry := range entries {
		if utils.IsFolder(entry.Key) {
			continue
		}
		rel, ok := d.svc.ns.FromStorageKey(d.userID, entry.Key)
		if !ok {
			continue
		}
		name, err := utils.Relativize(rel, d.path)
		if err != nil {
			return err
		}

		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: time.Now(),
		})
		if err != nil {
			return err
		}
		if err := d.copyObject(ctx, fw, rel); err != nil {
			return err
		}
	}
	return zw.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
