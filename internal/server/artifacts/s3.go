package artifacts

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3API is the subset of *s3.Client used by S3Source.
type S3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config points at the release bucket.
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

// NewS3Client builds a path-style client, suitable for MinIO. Static
// credentials are used when given, otherwise the default AWS chain.
func NewS3Client(ctx context.Context, c S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")))
	}
	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
		}
		o.UsePathStyle = true
	}), nil
}

// S3Source serves packages stored under Prefix in Bucket.
type S3Source struct {
	client S3API
	bucket string
	prefix string
	hashes *hashCache
}

func NewS3Source(client S3API, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: prefix, hashes: newHashCache(64)}
}

func (s *S3Source) List(ctx context.Context) ([]Artifact, error) {
	var found []Artifact
	var token *string
	etags := map[string]string{}

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", s.bucket, err)
		}
		for _, o := range out.Contents {
			key := aws.ToString(o.Key)
			name := path.Base(key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			platform, ok := PlatformOf(name)
			if !ok {
				continue
			}
			a := Artifact{
				Platform:    platform,
				Name:        name,
				Key:         key,
				ContentType: ContentTypeOf(name),
				Size:        aws.ToInt64(o.Size),
			}
			if o.LastModified != nil {
				a.ModTime = o.LastModified.UTC()
			}
			etags[key] = aws.ToString(o.ETag)
			found = append(found, a)
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}

	list := pick(found)
	for i := range list {
		key := list[i].Key
		k := keyFor(key, list[i].Size, list[i].ModTime, etags[key])
		sum, err := s.hashes.get(k, func() (io.ReadCloser, error) { return s.get(ctx, key) })
		if err != nil {
			return nil, err
		}
		list[i].SHA256 = sum
	}
	return list, nil
}

func (s *S3Source) Open(ctx context.Context, platform string) (*Artifact, io.ReadCloser, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	a, err := find(list, platform)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.get(ctx, a.Key)
	if err != nil {
		return nil, nil, err
	}
	return a, body, nil
}

func (s *S3Source) get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return out.Body, nil
}
