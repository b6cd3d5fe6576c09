package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"sgcars-go/internal/config"
)

// DefaultS3Region is used when the vault config leaves the region empty.
const DefaultS3Region = "ap-southeast-1"

// s3Client is the subset of *s3.Client used by S3Vault.
type s3Client interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Vault stores archives in an S3 bucket (or an S3-compatible service)
// under an optional key prefix, using the same layout as FileSystemVault.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   s3Client
	uploader *manager.Uploader
}

var _ Vault = (*S3Vault)(nil)

// NewS3Vault creates an S3Vault from configuration. Static credentials are
// used when both keys are set; otherwise the default AWS credential chain
// applies.
func NewS3Vault(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	region := cfg.S3Region
	if region == "" {
		region = DefaultS3Region
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	return newS3VaultWithClient(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client), nil
}

func newS3VaultWithClient(name, bucket, prefix string, client s3Client) *S3Vault {
	return &S3Vault{
		name:     name,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

// PutArchive uploads an archive.
func (v *S3Vault) PutArchive(ctx context.Context, dataset, checksum string, r io.Reader, size int64) error {
	if err := validateArchiveKey(dataset, checksum); err != nil {
		return err
	}
	return v.put(ctx, archiveKey(dataset, checksum), r, size)
}

// GetArchive downloads an archive and writes it to w.
func (v *S3Vault) GetArchive(ctx context.Context, dataset, checksum string, w io.Writer) error {
	if err := validateArchiveKey(dataset, checksum); err != nil {
		return err
	}
	return v.get(ctx, archiveKey(dataset, checksum), w)
}

// ListArchives returns the checksums stored for dataset.
func (v *S3Vault) ListArchives(ctx context.Context, dataset string) ([]string, error) {
	if !namePattern.MatchString(dataset) {
		return nil, fmt.Errorf("invalid dataset name %q", dataset)
	}

	p := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(v.bucket),
		Prefix: aws.String(v.key(archivePrefix(dataset))),
	})

	var sums []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", v.bucket, v.key(archivePrefix(dataset)), err)
		}
		for _, obj := range page.Contents {
			if sum := checksumFromKey(aws.ToString(obj.Key)); sum != "" {
				sums = append(sums, sum)
			}
		}
	}
	sort.Strings(sums)
	return sums, nil
}

// PutMetadata uploads a named item.
func (v *S3Vault) PutMetadata(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := validateMetadataName(name); err != nil {
		return err
	}
	return v.put(ctx, metadataKey(name), r, size)
}

// GetMetadata downloads a named item and writes it to w.
func (v *S3Vault) GetMetadata(ctx context.Context, name string, w io.Writer) error {
	if err := validateMetadataName(name); err != nil {
		return err
	}
	return v.get(ctx, metadataKey(name), w)
}

// ValidateSetup checks that the bucket exists and is accessible.
func (v *S3Vault) ValidateSetup(ctx context.Context) error {
	if _, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)}); err != nil {
		return fmt.Errorf("vault bucket %q not accessible: %w", v.bucket, err)
	}
	return nil
}

func (v *S3Vault) key(rel string) string {
	if v.prefix == "" {
		return rel
	}
	if strings.HasSuffix(rel, "/") {
		return path.Join(v.prefix, rel) + "/"
	}
	return path.Join(v.prefix, rel)
}

func (v *S3Vault) put(ctx context.Context, rel string, r io.Reader, size int64) error {
	key := v.key(rel)
	cr := &countingReader{r: r}
	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
		Body:   cr,
	})
	if err != nil {
		return fmt.Errorf("uploading s3://%s/%s: %w", v.bucket, key, err)
	}
	if cr.n != size {
		return sizeMismatch(size, cr.n)
	}
	return nil
}

func (v *S3Vault) get(ctx context.Context, rel string, w io.Writer) error {
	key := v.key(rel)
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("downloading s3://%s/%s: %w", v.bucket, key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading s3://%s/%s: %w", v.bucket, key, err)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
