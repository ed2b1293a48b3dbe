package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

// OCIOptions 配置以 OCI registry 作为对象存储的读取方式。
type OCIOptions struct {
	// Repository 是 registry 地址加可选的仓库前缀，例如 ghcr.io/allenai/datastore-public。
	Repository string
	Username   string
	Password   string
	Transport  http.RoundTripper
	Retry      RetryPolicy
}

// OCIFetcher 将 key {group}/{file} 映射为镜像 {repository}/{group}:{file}，
// 对象内容是该镜像第一层的原始 blob。
type OCIFetcher struct {
	repository string
	auth       authn.Authenticator
	transport  http.RoundTripper
	retry      RetryPolicy
}

// NewOCIFetcher 构造 OCIFetcher；未提供凭证时使用本机 docker keychain。
func NewOCIFetcher(opts OCIOptions) (*OCIFetcher, error) {
	repo := strings.TrimSuffix(strings.TrimSpace(opts.Repository), "/")
	if repo == "" {
		return nil, errors.New("oci repository required")
	}
	if _, err := name.NewRepository(repo); err != nil {
		return nil, fmt.Errorf("invalid oci repository %q: %w", opts.Repository, err)
	}
	f := &OCIFetcher{
		repository: repo,
		transport:  opts.Transport,
		retry:      opts.Retry,
	}
	if opts.Username != "" {
		f.auth = &authn.Basic{Username: opts.Username, Password: opts.Password}
	}
	return f, nil
}

// Reference 返回 key 对应的镜像引用。
func (f *OCIFetcher) Reference(key string) (name.Reference, error) {
	idx := strings.LastIndex(key, "/")
	if idx <= 0 || idx == len(key)-1 {
		return nil, fmt.Errorf("invalid object key for oci: %s", key)
	}
	return name.NewTag(f.repository + "/" + key[:idx] + ":" + key[idx+1:])
}

// Fetch 拉取镜像清单并把第一层 blob 写入 dst。清单或仓库不存在映射为 ErrNotFound。
func (f *OCIFetcher) Fetch(ctx context.Context, key string, dst io.Writer) error {
	ref, err := f.Reference(key)
	if err != nil {
		return err
	}

	img, err := remote.Image(ref, f.remoteOptions(ctx)...)
	if err != nil {
		if isOCINotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("fetch manifest %s: %w", ref, err)
	}

	layers, err := img.Layers()
	if err != nil {
		return fmt.Errorf("get layers %s: %w", ref, err)
	}
	if len(layers) == 0 {
		return fmt.Errorf("%w: %s has no layers", ErrNotFound, ref)
	}

	rc, err := layers[0].Compressed()
	if err != nil {
		if isOCINotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("open layer %s: %w", ref, err)
	}
	_, err = io.Copy(dst, rc)
	if cerr := rc.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("read layer %s: %w", ref, err)
	}
	return nil
}

func (f *OCIFetcher) remoteOptions(ctx context.Context) []remote.Option {
	opts := []remote.Option{remote.WithContext(ctx)}
	if f.auth != nil {
		opts = append(opts, remote.WithAuth(f.auth))
	} else {
		opts = append(opts, remote.WithAuthFromKeychain(authn.DefaultKeychain))
	}
	if f.transport != nil {
		opts = append(opts, remote.WithTransport(f.transport))
	}
	if f.retry.MaxRetries > 0 && f.retry.InitialBackoff > 0 {
		opts = append(opts, remote.WithRetryBackoff(remote.Backoff{
			Duration: f.retry.InitialBackoff,
			Factor:   2,
			Steps:    f.retry.MaxRetries + 1,
		}))
	}
	return opts
}

func isOCINotFound(err error) bool {
	var terr *transport.Error
	if !errors.As(err, &terr) {
		return false
	}
	if terr.StatusCode == http.StatusNotFound {
		return true
	}
	for _, diag := range terr.Errors {
		switch diag.Code {
		case transport.ManifestUnknownErrorCode, transport.NameUnknownErrorCode, transport.BlobUnknownErrorCode:
			return true
		}
	}
	return false
}
