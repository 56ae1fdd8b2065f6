package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// S3API is the subset of the S3 client used by Archive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ManifestEntry is one line of the monthly filings manifest.
type ManifestEntry struct {
	FilingID            string `json:"filing_id"`
	ApplicationID       string `json:"application_id"`
	Status              string `json:"status"`
	ConfirmationNumber  string `json:"confirmation_number,omitempty"`
	RequiresHumanReview bool   `json:"requires_human_review"`
	S3Key               string `json:"s3_key"`
	ArchivedAt          string `json:"archived_at"`
}

// Archive writes screenshots and final results to S3. With no bucket every
// operation is a no-op.
type Archive struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

func NewArchive(s3Client S3API, bucket string, logger *logging.Logger) *Archive {
	if logger == nil {
		logger = logging.Default()
	}
	return &Archive{
		bucket:   bucket,
		s3Client: s3Client,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enabled returns true if archival is configured.
func (a *Archive) Enabled() bool {
	return a != nil && a.bucket != "" && a.s3Client != nil
}

// PutScreenshot stores a PNG and returns its s3:// reference. It returns ""
// when the archive is disabled.
func (a *Archive) PutScreenshot(ctx context.Context, filingID, label string, png []byte) (string, error) {
	if !a.Enabled() || len(png) == 0 {
		return "", nil
	}
	key := fmt.Sprintf("filings/v1/%s/screenshots/%d-%s.png", filingID, a.now().UnixNano(), slug(label))
	_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(png),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		return "", fmt.Errorf("store: s3 put %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

// PutResult writes the result as JSON and appends it to the monthly manifest.
func (a *Archive) PutResult(ctx context.Context, res lca.FilingResult) error {
	if !a.Enabled() {
		return nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("store: marshal result: %w", err)
	}

	when := res.CompletedAt
	if when.IsZero() {
		when = a.now()
	}
	key := fmt.Sprintf("filings/v1/by-date/%d/%02d/%02d/%s.json", when.Year(), when.Month(), when.Day(), res.FilingID)
	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("store: s3 put %s: %w", key, err)
	}
	a.logger.Info("archived filing result", "filing_id", res.FilingID, "s3_key", key, "status", res.Status)

	entry := ManifestEntry{
		FilingID:            res.FilingID,
		ApplicationID:       res.ApplicationID,
		Status:              string(res.Status),
		ConfirmationNumber:  res.ConfirmationNumber,
		RequiresHumanReview: res.RequiresHumanReview,
		S3Key:               key,
		ArchivedAt:          when.Format(time.RFC3339),
	}
	if err := a.appendManifest(ctx, when, entry); err != nil {
		// The result itself is archived; a missing manifest line is recoverable.
		a.logger.Warn("failed to append manifest", "error", err, "filing_id", res.FilingID)
	}
	return nil
}

// appendManifest rewrites the monthly JSONL file since S3 has no append.
func (a *Archive) appendManifest(ctx context.Context, when time.Time, entry ManifestEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: marshal manifest entry: %w", err)
	}
	key := fmt.Sprintf("filings/v1/manifests/%d-%02d.jsonl", when.Year(), when.Month())

	var existing []byte
	out, err := a.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(out.Body)
		out.Body.Close()
		if err != nil {
			return fmt.Errorf("store: read manifest: %w", err)
		}
	case isNoSuchKey(err):
		a.logger.Debug("manifest not found, creating new", "key", key)
	default:
		return fmt.Errorf("store: get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("store: s3 put manifest: %w", err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "StatusCode: 404")
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	dash := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
