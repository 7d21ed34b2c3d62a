package session

import (
	"context"
	"errors"
	"strings"

	"github.com/h2non/filetype"
	"github.com/mitchellh/mapstructure"

	"github.com/fourks/sockethub/internal/common/apperrors"
	"github.com/fourks/sockethub/internal/common/httpclient"
)

// Config location of the remoteStorage credentials.
const (
	RemoteStorageNamespace = "remoteStorage"
	RemoteStorageKey       = "default"
)

// RemoteFile is the result of GetFile. Data is a string for text content,
// the decoded value for JSON and raw bytes otherwise.
type RemoteFile struct {
	Source   string `json:"source"`
	MimeType string `json:"mimeType"`
	Data     any    `json:"data"`
}

type remoteStorageConfig struct {
	StorageInfo struct {
		Href string `mapstructure:"href"`
		Type string `mapstructure:"type"`
	} `mapstructure:"storageInfo"`
	BearerToken string            `mapstructure:"bearerToken"`
	Scope       map[string]string `mapstructure:"scope"`
}

func (c *remoteStorageConfig) GetServerURL() string { return c.StorageInfo.Href }
func (c *remoteStorageConfig) GetToken() string     { return c.BearerToken }

func (s *Session) remoteStorage() (*remoteStorageConfig, apperrors.Error) {
	raw, ok := s.GetConfig(RemoteStorageNamespace, RemoteStorageKey).(map[string]any)
	if !ok || len(raw) == 0 {
		return nil, ErrRemoteStorageNotConfigured
	}
	var cfg remoteStorageConfig
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return nil, ErrRemoteStorageNotConfigured.MsgErr("invalid remoteStorage config", err)
	}
	if cfg.StorageInfo.Href == "" || cfg.BearerToken == "" {
		return nil, ErrRemoteStorageNotConfigured.Msg("remoteStorage config needs storageInfo.href and bearerToken")
	}
	return &cfg, nil
}

// GetFile fetches <storageInfo.href>/<module>/<path> from the session's
// remoteStorage with its bearer token. A path ending in "/" addresses a
// folder. Dot segments are refused with ErrInvalidRemotePath. Failures are
// not retried.
func (s *Session) GetFile(ctx context.Context, module, filePath string) (*RemoteFile, apperrors.Error) {
	target, err := remotePath(module, filePath)
	if err != nil {
		return nil, err
	}
	cfg, err := s.remoteStorage()
	if err != nil {
		return nil, err
	}
	client := s.manager.opts.HTTPClient(cfg)
	resp, goErr := client.Get(ctx, target)
	if goErr != nil {
		if errors.Is(goErr, httpclient.ErrInvalidPath) {
			return nil, ErrInvalidRemotePath.Err(goErr)
		}
		s.logger.Error().Err(goErr).Str("path", target).Msg("remoteStorage fetch failed")
		return nil, ErrRemoteFetchFailed.Err(goErr)
	}

	mimeType := resp.ContentType()
	if mimeType == "" {
		mimeType = sniffMimeType(resp.Body)
	}
	file := &RemoteFile{Source: resp.URL, MimeType: mimeType}
	switch {
	case isJSON(mimeType):
		var data any
		if err := json.Unmarshal(resp.Body, &data); err != nil {
			return nil, ErrRemoteFetchFailed.MsgErr("invalid JSON body", err)
		}
		file.Data = data
	case isText(mimeType):
		file.Data = string(resp.Body)
	default:
		file.Data = resp.Body
	}
	s.logger.Debug().Str("source", file.Source).Str("mime_type", mimeType).Msg("remoteStorage file fetched")
	return file, nil
}

// remotePath joins module and filePath with a single separator. Nothing is
// cleaned, so a trailing slash survives.
func remotePath(module, filePath string) (string, apperrors.Error) {
	for _, part := range [...]string{module, filePath} {
		for _, seg := range strings.Split(part, "/") {
			if seg == "." || seg == ".." {
				return "", ErrInvalidRemotePath.Msg("dot segments are not allowed: " + part)
			}
		}
	}
	module = strings.Trim(module, "/")
	filePath = strings.TrimPrefix(filePath, "/")
	if module == "" {
		return filePath, nil
	}
	return module + "/" + filePath, nil
}

func sniffMimeType(body []byte) string {
	kind, err := filetype.Match(body)
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream"
	}
	return kind.MIME.Value
}

func isJSON(mimeType string) bool {
	return mimeType == "application/json" || strings.HasSuffix(mimeType, "+json")
}

func isText(mimeType string) bool {
	switch {
	case strings.HasPrefix(mimeType, "text/"):
		return true
	case mimeType == "application/xml", mimeType == "application/javascript":
		return true
	}
	return strings.HasSuffix(mimeType, "+xml")
}
