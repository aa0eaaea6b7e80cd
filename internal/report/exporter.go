package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/toptalkers/internal/log"
	"github.com/keithlinneman/toptalkers/internal/tracker"
	"github.com/keithlinneman/toptalkers/internal/xerrors"
)

// PutObjectAPI is the slice of the S3 client the exporter needs.
// *s3.Client satisfies it; tests inject a stub.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type ExporterOptions struct {
	Logger log.Logger

	// S3 location for reports: s3://{bucket}/{prefix}/{epoch}.json
	S3Bucket string
	S3Prefix string

	// AWS config (uses default if nil)
	AWSConfig *aws.Config

	// Client overrides the S3 client built from AWSConfig. Test hook.
	Client PutObjectAPI
}

type Exporter struct {
	opts     ExporterOptions
	s3Client PutObjectAPI
	logger   log.Logger
}

// Document is the JSON report written for each finished epoch.
type Document struct {
	EpochStart time.Time       `json:"epoch_start"`
	EpochEnd   time.Time       `json:"epoch_end"`
	Capacity   int             `json:"capacity"`
	Distinct   int             `json:"distinct"`
	Ranking    []tracker.Entry `json:"ranking"`
}

// NewExporter creates an Exporter writing epoch reports to S3
func NewExporter(ctx context.Context, opts ExporterOptions) (*Exporter, error) {
	if opts.S3Bucket == "" {
		return nil, xerrors.New("S3Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	client := opts.Client
	if client == nil {
		var awsCfg aws.Config
		var err error
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "load AWS config")
			}
		}
		client = s3.NewFromConfig(awsCfg)
	}

	return &Exporter{
		opts:     opts,
		s3Client: client,
		logger:   opts.Logger,
	}, nil
}

// s3Key returns the S3 object key for an epoch that started at the given time
func (e *Exporter) s3Key(epochStart time.Time) string {
	name := epochStart.UTC().Format("20060102T150405Z") + ".json"
	if e.opts.S3Prefix != "" {
		return fmt.Sprintf("%s/%s", e.opts.S3Prefix, name)
	}
	return name
}

// Export writes the report document for the finishing epoch. Called by
// the scheduler with the snapshot taken just before the reset.
func (e *Exporter) Export(ctx context.Context, doc Document) error {
	key := e.s3Key(doc.EpochStart)

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return xerrors.Wrap(err, "encode epoch report")
	}

	_, err = e.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.opts.S3Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return xerrors.Wrapf(err, "put S3 object s3://%s/%s", e.opts.S3Bucket, key)
	}

	e.logger.Info(ctx, "exported epoch report",
		"bucket", e.opts.S3Bucket,
		"key", key,
		"distinct", doc.Distinct,
		"ranked", len(doc.Ranking),
		"bytes", len(body),
	)
	return nil
}
