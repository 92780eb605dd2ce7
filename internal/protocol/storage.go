package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nao1215/crawlkit/internal/model"
)

// StorageConfig configures an ObjectStorageClient.
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string

	// Scheme is the URL scheme served, "s3" when empty.
	Scheme string

	Limits          ContentLimits
	MemoryThreshold int64
	SpoolDir        string
}

// ObjectStorageClient fetches objects from S3 compatible storage.
// scheme://bucket/prefix/ lists one level; scheme://bucket/key reads an
// object.
type ObjectStorageClient struct {
	cfg    StorageConfig
	client *miniogo.Client
	once   InitOnce
}

// NewObjectStorageClient returns an object storage client. The endpoint is
// validated on the first fetch.
func NewObjectStorageClient(cfg StorageConfig) *ObjectStorageClient {
	if cfg.Scheme == "" {
		cfg.Scheme = "s3"
	}
	return &ObjectStorageClient{cfg: cfg}
}

// Schemes implements Client.
func (c *ObjectStorageClient) Schemes() []string { return []string{strings.ToLower(c.cfg.Scheme)} }

// Close implements Client.
func (c *ObjectStorageClient) Close() error { return nil }

func (c *ObjectStorageClient) connect(_ context.Context) error {
	if c.cfg.Endpoint == "" {
		return errors.New("object storage endpoint is not configured")
	}
	client, err := miniogo.New(c.cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(c.cfg.AccessKey, c.cfg.SecretKey, ""),
		Secure: c.cfg.UseSSL,
		Region: c.cfg.Region,
	})
	if err != nil {
		return fmt.Errorf("failed to create object storage client: %w", err)
	}
	c.client = client
	return nil
}

// Fetch implements Client.
func (c *ObjectStorageClient) Fetch(ctx context.Context, rawURL string, includeBody bool) Outcome {
	start := time.Now()
	if err := c.once.Do(ctx, c.connect); err != nil {
		return Failed(connectError(rawURL, err), nil)
	}

	bucket, key, err := parseObjectURL(rawURL)
	if err != nil {
		return Failed(NewFetchError(ErrorAccess, rawURL, err), nil)
	}

	if key == "" || strings.HasSuffix(key, "/") {
		return c.list(ctx, rawURL, bucket, key)
	}

	info, err := c.client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{})
	if err != nil {
		return Failed(c.objectError(ctx, rawURL, err), nil)
	}

	mediaType, charset := ParseContentType(info.ContentType)
	if mediaType == "" || mediaType == "binary/octet-stream" {
		mediaType = MimeByExtension(key)
	}
	data := &model.ResponseData{
		URL:           rawURL,
		Method:        model.MethodGet,
		MimeType:      mediaType,
		Charset:       charset,
		ContentLength: info.Size,
		LastModified:  info.LastModified,
		Metadata:      map[string]string{"ETag": info.ETag},
	}
	for k, v := range info.UserMetadata {
		data.Metadata[k] = v
	}
	if fe := c.cfg.Limits.Check(rawURL, mediaType, info.Size); fe != nil {
		return Failed(fe, data)
	}
	if !includeBody {
		data.Method = model.MethodHead
		data.ExecutionTime = time.Since(start)
		return Fetched(data)
	}

	obj, err := c.client.GetObject(ctx, bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return Failed(c.objectError(ctx, rawURL, err), data)
	}
	defer obj.Close()

	body, err := Spool(obj, c.cfg.Limits.Limit(mediaType), c.cfg.MemoryThreshold, c.cfg.SpoolDir)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return Failed(NewFetchError(ErrorTooLarge, rawURL, err), data)
		}
		return Failed(c.objectError(ctx, rawURL, err), data)
	}
	data.Body = body
	data.ContentLength = body.Len()
	data.ExecutionTime = time.Since(start)
	return Fetched(data)
}

// list expands one level of a bucket prefix into objects and sub-prefixes.
func (c *ObjectStorageClient) list(ctx context.Context, rawURL, bucket, prefix string) Outcome {
	var children []string
	for obj := range c.client.ListObjects(ctx, bucket, miniogo.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return Failed(c.objectError(ctx, rawURL, obj.Err), nil)
		}
		if obj.Key == prefix {
			continue
		}
		children = append(children, objectURL(c.cfg.Scheme, bucket, obj.Key))
	}
	return Expand(children)
}

func (c *ObjectStorageClient) objectError(ctx context.Context, rawURL string, err error) *FetchError {
	resp := miniogo.ToErrorResponse(err)
	if resp.StatusCode != 0 {
		fe := NewFetchError(ErrorStatus, rawURL, err)
		fe.StatusCode = resp.StatusCode
		return fe
	}
	return classify(ctx, rawURL, err)
}

// parseObjectURL splits scheme://bucket/key.
func parseObjectURL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid object url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("invalid object url %q: missing bucket", rawURL)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func objectURL(scheme, bucket, key string) string {
	u := url.URL{Scheme: scheme, Host: bucket, Path: "/" + key}
	return u.String()
}
