package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	syncerrors "guildmirror/internal/errors"
	"guildmirror/internal/models"
	mirrortypes "guildmirror/pkg/mirror/types"
)

// Downloader fetches attachment bytes from the source CDN.
type Downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPDownloader is the production Downloader backed by a plain HTTP client.
type HTTPDownloader struct {
	client *http.Client
}

func NewHTTPDownloader(client *http.Client) *HTTPDownloader {
	return &HTTPDownloader{client: client}
}

func (d *HTTPDownloader) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ClassTransientNetwork, "attachment download failed")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		class := syncerrors.ClassTransientNetwork
		if resp.StatusCode == http.StatusNotFound {
			class = syncerrors.ClassNotFound
		}
		return nil, syncerrors.New(class, fmt.Sprintf("attachment download returned status %d", resp.StatusCode))
	}
	return resp.Body, nil
}

// attachmentPlan partitions a message's attachments into native uploads and
// plain links. An attachment over the per-file ceiling, or one that would push
// the batch over the per-message ceiling, degrades to a link instead of
// failing the whole message.
type attachmentPlan struct {
	files []mirrortypes.File
	links []string
}

func planAttachments(ctx context.Context, attachments []models.Attachment, downloader Downloader, maxFileBytes, maxBatchBytes int64) (*attachmentPlan, error) {
	plan := &attachmentPlan{}
	var batchTotal int64

	for _, att := range attachments {
		if att.Size > maxFileBytes || batchTotal+att.Size > maxBatchBytes {
			plan.links = append(plan.links, attachmentLink(att))
			continue
		}

		body, err := downloader.Download(ctx, att.URL)
		if err != nil {
			// An undownloadable attachment degrades to a link too; the
			// source CDN URL stays valid for the reader.
			plan.links = append(plan.links, attachmentLink(att))
			continue
		}
		data, err := io.ReadAll(io.LimitReader(body, maxFileBytes+1))
		body.Close()
		if err != nil || int64(len(data)) > maxFileBytes {
			plan.links = append(plan.links, attachmentLink(att))
			continue
		}

		batchTotal += int64(len(data))
		plan.files = append(plan.files, mirrortypes.File{
			Name:        att.Filename,
			ContentType: att.ContentType,
			Reader:      bytes.NewReader(data),
		})
	}
	return plan, nil
}

// allLinks converts every attachment to a link, for the degraded dispatch
// stage after a payload-too-large rejection.
func allLinks(attachments []models.Attachment) []string {
	links := make([]string, 0, len(attachments))
	for _, att := range attachments {
		links = append(links, attachmentLink(att))
	}
	return links
}

// attachmentLink renders one degraded attachment as a markdown link with a
// size annotation so readers know what they are clicking into.
func attachmentLink(att models.Attachment) string {
	return fmt.Sprintf("[%s (%s)](%s)", att.Filename, humanSize(att.Size), att.URL)
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
