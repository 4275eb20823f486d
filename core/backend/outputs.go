package backend

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mudler/genstudio/core/params"
	"github.com/mudler/genstudio/pkg/utils"
	"github.com/mudler/xlog"
)

// OutputStore re-hosts a generated file and returns the URL it is served at.
type OutputStore interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// OutputEmbedder copies generation outputs into an OutputStore, so results
// outlive the short lived URLs of the service.
type OutputEmbedder struct {
	store   OutputStore
	fetcher *utils.Fetcher
}

func NewOutputEmbedder(store OutputStore, fetcher *utils.Fetcher) *OutputEmbedder {
	return &OutputEmbedder{store: store, fetcher: fetcher}
}

// Embed returns the re-hosted URLs. An output that cannot be copied keeps its
// original URL.
func (e *OutputEmbedder) Embed(ctx context.Context, predictionID string, outputs []string) []string {
	out := make([]string, len(outputs))
	for i, src := range outputs {
		out[i] = src
		data, contentType, err := e.read(ctx, src)
		if err != nil {
			xlog.Warn("Cannot copy generation output", "prediction", predictionID, "output", i, "error", err)
			continue
		}
		name := fmt.Sprintf("%s-%d%s", predictionID, i, extension(contentType, src))
		url, err := e.store.Put(ctx, name, contentType, data)
		if err != nil {
			xlog.Warn("Cannot store generation output", "prediction", predictionID, "output", i, "error", err)
			continue
		}
		out[i] = url
	}
	return out
}

func (e *OutputEmbedder) read(ctx context.Context, src string) ([]byte, string, error) {
	if params.IsDataURL(src) {
		contentType, data, err := params.ParseDataURL(src)
		return data, contentType, err
	}
	return e.fetcher.Fetch(ctx, src)
}

func extension(contentType, src string) string {
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		for _, ext := range exts {
			// prefer the common spellings
			if ext == ".jpg" || ext == ".png" || ext == ".webp" || ext == ".mp4" {
				return ext
			}
		}
		return exts[0]
	}
	if !params.IsDataURL(src) {
		if ext := filepath.Ext(strings.SplitN(src, "?", 2)[0]); len(ext) <= 5 {
			return ext
		}
	}
	return ""
}

// LocalOutputStore writes outputs into a directory served under URLPrefix.
type LocalOutputStore struct {
	Dir       string
	URLPrefix string
}

func NewLocalOutputStore(dir, urlPrefix string) (*LocalOutputStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	return &LocalOutputStore{Dir: dir, URLPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

func (l *LocalOutputStore) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	name = filepath.Base(name)
	if err := os.WriteFile(filepath.Join(l.Dir, name), data, 0640); err != nil {
		return "", err
	}
	return l.URLPrefix + "/" + name, nil
}

type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	PublicURL       string
	AccessKeyID     string
	SecretAccessKey string
}

// S3OutputStore uploads outputs to an S3 compatible bucket.
type S3OutputStore struct {
	client *s3.Client
	opts   S3Options
}

func NewS3OutputStore(ctx context.Context, o S3Options) (*S3OutputStore, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if o.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(o.Region))
	}
	if o.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	})
	return &S3OutputStore{client: client, opts: o}, nil
}

func (s *S3OutputStore) key(name string) string {
	prefix := strings.Trim(s.opts.Prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (s *S3OutputStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	key := s.key(name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return s.objectURL(key), nil
}

func (s *S3OutputStore) objectURL(key string) string {
	switch {
	case s.opts.PublicURL != "":
		return strings.TrimRight(s.opts.PublicURL, "/") + "/" + key
	case s.opts.Endpoint != "":
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.opts.Endpoint, "/"), s.opts.Bucket, key)
	}
	region := s.opts.Region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.opts.Bucket, region, key)
}
