package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
)

const defaultMaxBytes = 64 << 20

// DownloadTimeout bounds one artifact download of the default HTTP client.
const DownloadTimeout = 2 * time.Minute

// MirrorOptions configures a MirrorStore.
type MirrorOptions struct {
	Files *FileStore
	// PublicBaseURL, when set, replaces the provider URL handed to Next with
	// the mirrored copy.
	PublicBaseURL string
	Next          domain.ArtifactStore
	HTTPClient    *http.Client
	MaxBytes      int64
	Logger        *infra.Logger
}

// MirrorStore copies artifact bytes into a FileStore before handing the
// artifact to the next store. Provider URLs usually expire; the copy does not.
type MirrorStore struct {
	files      *FileStore
	publicBase string
	next       domain.ArtifactStore
	httpClient *http.Client
	maxBytes   int64
	logger     zerolog.Logger
}

type sidecar struct {
	TaskID    string      `json:"task_id"`
	OwnerID   string      `json:"owner_id"`
	PersonaID string      `json:"persona_id,omitempty"`
	Kind      domain.Kind `json:"kind"`
	Prompt    string      `json:"prompt"`
	SourceURL string      `json:"source_url"`
	MIME      string      `json:"mime"`
	Bytes     int         `json:"bytes"`
	Tags      []string    `json:"tags,omitempty"`
	SavedAt   time.Time   `json:"saved_at"`
}

func NewMirrorStore(opts MirrorOptions) (*MirrorStore, error) {
	if opts.Files == nil {
		return nil, errors.New("storage: mirror needs a file store")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DownloadTimeout}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &MirrorStore{
		files:      opts.Files,
		publicBase: strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/"),
		next:       opts.Next,
		httpClient: httpClient,
		maxBytes:   maxBytes,
		logger:     logger,
	}, nil
}

// SaveArtifact downloads a.URL, writes it under
// generated/<kind>/<owner>/<uuid><ext> with a JSON sidecar and delegates to
// the next store.
func (m *MirrorStore) SaveArtifact(ctx context.Context, a domain.Artifact) error {
	data, contentType, err := m.download(ctx, a.URL)
	if err != nil {
		return err
	}
	ext := extensionFor(contentType, a.URL)
	base := path.Join("generated", string(a.Kind), ownerSegment(a.OwnerID), uuid.NewString())
	key, err := m.files.Write(ctx, base+ext, data)
	if err != nil {
		return err
	}
	meta, err := json.MarshalIndent(sidecar{
		TaskID:    a.TaskID,
		OwnerID:   a.OwnerID,
		PersonaID: a.PersonaID,
		Kind:      a.Kind,
		Prompt:    a.Prompt,
		SourceURL: a.URL,
		MIME:      contentType,
		Bytes:     len(data),
		Tags:      a.Tags,
		SavedAt:   time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode sidecar: %w", err)
	}
	if _, err := m.files.Write(ctx, base+".json", meta); err != nil {
		return err
	}
	m.logger.Info().
		Str("task_id", a.TaskID).
		Str("owner_id", a.OwnerID).
		Str("key", key).
		Int("bytes", len(data)).
		Msg("storage: artifact mirrored")

	if m.next == nil {
		return nil
	}
	if m.publicBase != "" {
		a.URL = m.publicBase + "/" + key
	}
	return m.next.SaveArtifact(ctx, a)
}

func (m *MirrorStore) download(ctx context.Context, raw string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, "", fmt.Errorf("storage: invalid artifact url %q", raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("storage: build download request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("storage: download artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("storage: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("storage: read artifact: %w", err)
	}
	if int64(len(data)) > m.maxBytes {
		return nil, "", fmt.Errorf("storage: artifact exceeds %d bytes", m.maxBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func extensionFor(contentType, rawURL string) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "image/png":
			return ".png"
		case "image/jpeg":
			return ".jpg"
		case "image/webp":
			return ".webp"
		case "video/mp4":
			return ".mp4"
		case "audio/mpeg":
			return ".mp3"
		case "audio/wav", "audio/x-wav":
			return ".wav"
		}
	}
	if parsed, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(parsed.Path)); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	return ".bin"
}

func ownerSegment(owner string) string {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "anonymous"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, owner)
}

var _ domain.ArtifactStore = (*MirrorStore)(nil)
